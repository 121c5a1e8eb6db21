package display

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes serves a /debug/devices page listing every widget.
func (b *Board) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("devices", "Display widgets", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, wd := range b.Widgets() {
			fmt.Fprintf(w, "%-22s %5.1f%%  %-12s icon=%dB updated=%s\n",
				wd.Key, wd.Percent*100, wd.State, wd.IconBytes, wd.Updated.Format("15:04:05"))
		}
		for _, n := range b.Notes() {
			fmt.Fprintf(w, "note %s %s: %s\n", n.At.Format("15:04:05"), n.Title, n.Message)
		}
	}))
	debug.KVFunc("Display subscribers", func() any { return b.Subscribers() })
}
