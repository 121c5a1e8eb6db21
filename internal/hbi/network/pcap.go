package network

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/battery.report/internal/monitoring"
)

// ReplayOptions controls ReadPCAPFile.
type ReplayOptions struct {
	// Port keeps only UDP datagrams sent to this port; 0 keeps all.
	Port int
	// Realtime sleeps between packets to honour capture timestamps.
	Realtime bool
}

// ReadPCAPFile replays UDP payloads from a pcap capture through handler, the
// same path live datagrams take. It returns nil at end of file.
func ReadPCAPFile(ctx context.Context, pcapFile string, opts ReplayOptions, handler PacketHandler) error {
	f, err := os.Open(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read PCAP header from %s: %w", pcapFile, err)
	}

	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	packetCount := 0
	replayed := 0
	startTime := time.Now()
	var lastCapture time.Time

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping due to context cancellation (replayed %d packets)", replayed)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("PCAP replay complete: %d of %d packets replayed in %v",
					replayed, packetCount, time.Since(startTime))
				return nil
			}
			packetCount++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok {
				continue
			}
			if opts.Port != 0 && int(udp.DstPort) != opts.Port {
				continue
			}

			if opts.Realtime {
				ts := packet.Metadata().Timestamp
				if !lastCapture.IsZero() && ts.After(lastCapture) {
					if err := sleepCtx(ctx, ts.Sub(lastCapture)); err != nil {
						return err
					}
				}
				lastCapture = ts
			}

			handler.HandlePacket(udp.Payload)
			replayed++
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
