package mediaengine

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"go.uber.org/zap"
)

// TransportQuality is the RTCP-derived view of one transport's media
// quality, read only by the transport's periodic debug log (logQuality);
// neither the admin surface nor the metrics collector exposes it. It is
// observability only; nothing in the core consults it.
type TransportQuality struct {
	FractionLost uint8         `json:"fractionLost"`
	Jitter       uint32        `json:"jitter"`
	RTT          time.Duration `json:"rtt"`
	NackCount    uint64        `json:"nackCount"`
	PLICount     uint64        `json:"pliCount"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type qualityTracker struct {
	mu sync.Mutex
	q  TransportQuality
}

func (t *qualityTracker) snapshot() TransportQuality {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q
}

// readRTCPLoop drains RTCP off one sender or receiver until the
// underlying transport closes, folding each report into the tracker. The
// read closure papers over RTPSender/RTPReceiver having no common
// interface in pion.
func (t *Transport) readRTCPLoop(read func() ([]rtcp.Packet, error), label string) {
	for {
		packets, err := read()
		if err != nil {
			t.router.log.Debugw("rtcp read ended", "transport_id", t.id, "source", label, "error", err)
			return
		}
		t.processRTCP(packets)
	}
}

func (t *Transport) processRTCP(packets []rtcp.Packet) {
	t.quality.mu.Lock()
	defer t.quality.mu.Unlock()

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				t.quality.q.FractionLost = report.FractionLost
				t.quality.q.Jitter = report.Jitter
				if report.LastSenderReport != 0 {
					// RTT = arrival - LSR - DLSR, all in the middle 32 bits
					// (16.16 fixed point) of an NTP timestamp.
					now := time.Now()
					ntpSecs := uint64(now.Unix()) + 2208988800
					frac := uint64(now.Nanosecond()) << 32 / 1e9
					arrival := uint32((ntpSecs&0xFFFF)<<16 | frac>>16)
					if rtt := arrival - report.LastSenderReport - report.Delay; int32(rtt) >= 0 {
						t.quality.q.RTT = time.Duration(rtt) * time.Second / 65536
					}
				}
			}
			t.quality.q.UpdatedAt = time.Now()

		case *rtcp.TransportLayerNack:
			t.quality.q.NackCount += uint64(len(p.Nacks))
			t.quality.q.UpdatedAt = time.Now()

		case *rtcp.PictureLossIndication:
			t.quality.q.PLICount++
			t.quality.q.UpdatedAt = time.Now()
		}
	}
}

// Quality returns the latest RTCP-derived metrics for this transport.
func (t *Transport) Quality() TransportQuality {
	return t.quality.snapshot()
}

// logQuality is a periodic debug dump of the tracker, matching the
// logging the forwarder path does for read/write failures.
func (t *Transport) logQuality(log *zap.SugaredLogger) {
	q := t.Quality()
	if q.UpdatedAt.IsZero() {
		return
	}
	log.Debugw("transport quality",
		"transport_id", t.id,
		"fraction_lost", q.FractionLost,
		"jitter", q.Jitter,
		"rtt_ms", q.RTT.Milliseconds(),
		"nacks", q.NackCount,
		"plis", q.PLICount,
	)
}
