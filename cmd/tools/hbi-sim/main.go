// Command hbi-sim stands in for the headset's telemetry source. It sends
// battery records for every device on an interval, answers update requests
// immediately, and can emit notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/hbi/parse"
)

var (
	target   = flag.String("target", fmt.Sprintf("127.0.0.1:%d", hbi.ListenPort), "Address telemetry is sent to")
	listen   = flag.String("listen", fmt.Sprintf("127.0.0.1:%d", hbi.RequestPort), "Address to receive update requests on")
	interval = flag.Duration("interval", 5*time.Second, "Interval between status broadcasts")
	company  = flag.Int("company", int(hbi.CompanyMeta), "Company code sent with each record (-1 unknown, 0 pico, 1 meta)")
	drain    = flag.Int("drain", 1, "Battery percent lost per broadcast")
	notify   = flag.String("notify", "", "Notification to send once at startup, as topic/message")
)

// battery simulates one device draining and recharging.
type battery struct {
	mu       sync.Mutex
	level    int
	charging bool
}

func (b *battery) step(drain int) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.charging:
		b.level += 2 * drain
		if b.level >= hbi.MaxLevel {
			b.level = hbi.MaxLevel
			b.charging = false
		}
	default:
		b.level -= drain
		if b.level <= 10 {
			b.charging = true
		}
	}
	return b.level, b.charging
}

func (b *battery) read() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level, b.charging
}

func main() {
	flag.Parse()

	dst, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatal(err)
	}
	laddr, err := net.ResolveUDPAddr("udp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	fmt.Printf("hbi-sim sending to %s, requests on %s\n", dst, conn.LocalAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batteries := make(map[hbi.Device]*battery, len(hbi.Devices))
	for _, d := range hbi.Devices {
		batteries[d] = &battery{level: 40 + rand.Intn(60)}
	}

	var sent int64
	send := func(d hbi.Device, level int, charging bool) {
		pkt := parse.EncodeStatus(hbi.Status{
			Device:   d,
			Charging: charging,
			Level:    level,
			Company:  hbi.Company(*company),
		})
		if _, err := conn.WriteToUDP(pkt, dst); err != nil {
			log.Printf("Send error: %v", err)
			return
		}
		atomic.AddInt64(&sent, 1)
	}

	if *notify != "" {
		topic, message, ok := strings.Cut(*notify, "/")
		if !ok {
			topic, message = "hbi", *notify
		}
		if _, err := conn.WriteToUDP(parse.EncodeNotification(topic, message), dst); err != nil {
			log.Printf("Send error: %v", err)
		}
	}

	// Request loop: every datagram on the request port triggers a full refresh.
	go func() {
		buffer := make([]byte, 1024)
		for {
			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Read error: %v", err)
				continue
			}
			if string(buffer[:n]) != hbi.RequestUpdateMessage {
				log.Printf("Ignoring %d bytes from %s", n, from)
				continue
			}
			log.Printf("Update requested by %s", from)
			for _, d := range hbi.Devices {
				level, charging := batteries[d].read()
				send(d, level, charging)
			}
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("Sent %d records\n", atomic.LoadInt64(&sent))
			return
		case <-statsTicker.C:
			fmt.Printf("Sent: %d records\n", atomic.SwapInt64(&sent, 0))
		case <-ticker.C:
			for _, d := range hbi.Devices {
				level, charging := batteries[d].step(*drain)
				send(d, level, charging)
			}
		}
	}
}
