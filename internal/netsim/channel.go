package netsim

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// propagationSpeed of the radio signal in m/s
const propagationSpeed = 3e8

// ChannelConfig describes the shared medium.
type ChannelConfig struct {
	// BitrateMbps sets the transmission time of a frame
	BitrateMbps float64 `mapstructure:"bitrate_mbps" yaml:"bitrate_mbps" json:"bitrate_mbps"`

	// JitterUs is the upper bound of a uniform channel-access delay, in
	// microseconds.  Zero keeps the channel deterministic.
	JitterUs float64 `mapstructure:"jitter_us" yaml:"jitter_us" json:"jitter_us"`

	// StreamName seeds the jitter random number stream
	StreamName string `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultChannel is 802.11p at its 6 Mbps base rate without jitter.
func DefaultChannel() ChannelConfig {
	return ChannelConfig{BitrateMbps: 6, StreamName: "channel"}
}

func (cfg ChannelConfig) withDefaults() ChannelConfig {
	if cfg.BitrateMbps <= 0 {
		cfg.BitrateMbps = DefaultChannel().BitrateMbps
	}
	if len(cfg.StreamName) == 0 {
		cfg.StreamName = DefaultChannel().StreamName
	}
	return cfg
}

// computeServiceTime returns the time in seconds to put msgLen bytes on a
// medium of bndwdth Mbps
func computeServiceTime(msgLen int, bndwdth float64) float64 {
	msgLenMbits := float64(8*msgLen) / 1e6
	return msgLenMbits / bndwdth
}

// propagationDelay is the flight time across distance metres
func propagationDelay(distance float64) float64 {
	return distance / propagationSpeed
}

// transitDelay is the time from the start of a send on node src until the
// frame is available at node dst: transmission plus propagation, plus the
// optional access jitter.  Distance is taken at the moment of sending.
func (nw *Network) transitDelay(src, dst int, msgLen int) float64 {
	dist := r2.Norm(r2.Sub(nw.pos.Position(dst), nw.pos.Position(src)))
	delay := computeServiceTime(msgLen, nw.ch.BitrateMbps) + propagationDelay(dist)
	if nw.ch.JitterUs > 0 {
		delay += nw.rng.RandU01() * nw.ch.JitterUs * 1e-6
	}
	return delay
}
