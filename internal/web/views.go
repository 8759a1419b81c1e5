package web

import (
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/ble"
	"github.com/robplow/ebike-monitor/internal/session"
	"github.com/robplow/ebike-monitor/internal/storage"
)

// DataView is bike.Data as served to clients: raw values for programs and
// display text for people.
type DataView struct {
	Battery     *int       `json:"battery"`
	BatteryText string     `json:"batteryText"`
	Assist      *int       `json:"assist"`
	AssistText  string     `json:"assistText"`
	Speed       *float64   `json:"speed"`
	SpeedText   string     `json:"speedText"`
	Raw         string     `json:"raw"`
	CapturedAt  *time.Time `json:"capturedAt,omitempty"`
}

func newDataView(d bike.Data) DataView {
	v := DataView{
		BatteryText: bike.BatteryText(d),
		AssistText:  bike.AssistText(d),
		SpeedText:   bike.SpeedText(d),
		Raw:         d.Raw,
	}
	if x, ok := d.Battery.Get(); ok {
		v.Battery = &x
	}
	if x, ok := d.Assist.Get(); ok {
		v.Assist = &x
	}
	if x, ok := d.Speed.Get(); ok {
		v.Speed = &x
	}
	if !d.CapturedAt.IsZero() {
		t := d.CapturedAt.UTC()
		v.CapturedAt = &t
	}
	return v
}

// BikeView identifies the configured bike.
type BikeView struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// StatusView is the JSON form of a session snapshot.
type StatusView struct {
	State       string       `json:"state"`
	Error       string       `json:"error,omitempty"`
	Address     string       `json:"address,omitempty"`
	Data        *DataView    `json:"data"`
	ScanResults []ble.Device `json:"scanResults"`
	LogSize     int          `json:"logSize"`
	Seq         uint64       `json:"seq"`
	Bike        BikeView     `json:"bike"`
}

func newStatusView(snap session.Snapshot, ctl Controller) StatusView {
	v := StatusView{
		State:       snap.State.String(),
		Address:     snap.Address,
		ScanResults: snap.ScanResults,
		LogSize:     len(snap.DataLog),
		Seq:         snap.Seq,
		Bike: BikeView{
			Name:    ctl.ConfiguredName(),
			Address: ctl.ConfiguredAddress(),
		},
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if d, ok := snap.Data.Get(); ok {
		dv := newDataView(d)
		v.Data = &dv
	}
	if v.ScanResults == nil {
		v.ScanResults = []ble.Device{}
	}
	return v
}

// ReadingView is a stored reading.
type ReadingView struct {
	ID int64 `json:"id"`
	DataView
}

func newReadingViews(readings []storage.Reading) []ReadingView {
	out := make([]ReadingView, 0, len(readings))
	for _, r := range readings {
		out = append(out, ReadingView{ID: r.ID, DataView: newDataView(r.Data)})
	}
	return out
}
