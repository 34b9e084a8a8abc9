package model

import "time"

// ChannelStatus is one channel's reading within a Status snapshot.
type ChannelStatus struct {
	Name      string
	RPM       *int
	Duty      *float64 // percent, 0-100
	Watts     *float64
	Frequency *float64 // MHz
}

// TempStatus is one named temperature reading within a Status snapshot.
type TempStatus struct {
	Name string
	Temp float64 // degrees C
}

// Status is a snapshot at wall-clock time. The most recent entry in a
// Device's history ring is the current reading.
type Status struct {
	Timestamp time.Time
	Channels  []ChannelStatus
	Temps     []TempStatus
}

// TempByName returns the temperature reading with the given name, if
// present in this snapshot.
func (s Status) TempByName(name string) (float64, bool) {
	for _, t := range s.Temps {
		if t.Name == name {
			return t.Temp, true
		}
	}
	return 0, false
}

// ChannelByName returns the channel reading with the given name, if present.
func (s Status) ChannelByName(name string) (ChannelStatus, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ChannelStatus{}, false
}
