// Package link computes what a receiver observes about one delivered packet:
// the distance to the sender, a free-space signal strength, the one-way delay
// and a threshold loss decision.
package link

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// SpeedOfLight in m/s, as used by the free-space formula.
const SpeedOfLight = 3e8

// Params are the radio constants of the link model.
type Params struct {
	TxPowerDbm       float64 `json:"tx_power_dbm" yaml:"tx_power_dbm" mapstructure:"tx_power_dbm"`
	FrequencyHz      float64 `json:"frequency_hz" yaml:"frequency_hz" mapstructure:"frequency_hz"`
	RSSIFloorDbm     float64 `json:"rssi_floor_dbm" yaml:"rssi_floor_dbm" mapstructure:"rssi_floor_dbm"`
	LossThresholdDbm float64 `json:"loss_threshold_dbm" yaml:"loss_threshold_dbm" mapstructure:"loss_threshold_dbm"`
}

// DefaultParams returns the 802.11p defaults: 20 dBm at 5.9 GHz, a -100 dBm
// floor and loss below -85 dBm.
func DefaultParams() Params {
	return Params{
		TxPowerDbm:       20,
		FrequencyHz:      5.9e9,
		RSSIFloorDbm:     -100,
		LossThresholdDbm: -85,
	}
}

// Input is everything the model needs about one received packet.  Vehicle
// state is whatever the registry holds at the moment of reception.
type Input struct {
	RecvNs uint64
	SendNs uint64

	Sender   int32
	Receiver int32

	SenderPos   r2.Vec
	ReceiverPos r2.Vec

	SenderSpeed   float64
	ReceiverSpeed float64

	PacketSize int
}

// Observation is one row of the link log.
type Observation struct {
	Time          float64 // receive time, seconds
	Sender        int32
	Receiver      int32
	Distance      float64
	SpeedSender   float64
	SpeedReceiver float64
	PacketSize    int
	RSSI          float64
	DelayMs       float64
	Lost          bool
}

// LossFlag is the 0/1 form of Lost used in the log.
func (obs Observation) LossFlag() int {
	if obs.Lost {
		return 1
	}
	return 0
}

// Model evaluates observations with fixed parameters.
type Model struct {
	params Params
	// c / (4 pi f), the distance independent part of the Friis term
	friisK float64
}

// NewModel is a constructor
func NewModel(p Params) *Model {
	return &Model{params: p, friisK: SpeedOfLight / (4 * math.Pi * p.FrequencyHz)}
}

// Params returns the parameters the model was built with.
func (m *Model) Params() Params {
	return m.params
}

// SignalStrength returns the received power in dBm at distance metres,
// clamped below at the floor.  A non-finite result, as at distance 0, is
// clamped to the floor as well.
func (m *Model) SignalStrength(distance float64) float64 {
	rssi := m.params.TxPowerDbm + 20*math.Log10(m.friisK/distance)
	if math.IsNaN(rssi) || math.IsInf(rssi, 0) || rssi < m.params.RSSIFloorDbm {
		return m.params.RSSIFloorDbm
	}
	return rssi
}

// Lost reports whether a packet received at rssi is counted as lost.  The
// threshold itself is not a loss.
func (m *Model) Lost(rssi float64) bool {
	return rssi < m.params.LossThresholdDbm
}

// DelayMs converts a send/receive pair of nanosecond stamps into fractional
// milliseconds.
func DelayMs(sendNs, recvNs uint64) float64 {
	return float64(int64(recvNs-sendNs)) / 1e6
}

// Observe produces the observation for one delivered packet.
func (m *Model) Observe(in Input) Observation {
	dist := r2.Norm(r2.Sub(in.ReceiverPos, in.SenderPos))
	rssi := m.SignalStrength(dist)

	return Observation{
		Time:          float64(in.RecvNs) / 1e9,
		Sender:        in.Sender,
		Receiver:      in.Receiver,
		Distance:      dist,
		SpeedSender:   in.SenderSpeed,
		SpeedReceiver: in.ReceiverSpeed,
		PacketSize:    in.PacketSize,
		RSSI:          rssi,
		DelayMs:       DelayMs(in.SendNs, in.RecvNs),
		Lost:          m.Lost(rssi),
	}
}
