package model

import "testing"

func TestNewDeviceUIDDeterministic(t *testing.T) {
	a := NewDeviceUID(FamilyHwmon, "serial-123", 1)
	b := NewDeviceUID(FamilyHwmon, "serial-123", 1)
	if a != b {
		t.Fatalf("expected deterministic UID, got %q vs %q", a, b)
	}
}

func TestNewDeviceUIDDistinguishesFamilyAndIndex(t *testing.T) {
	a := NewDeviceUID(FamilyHwmon, "k10temp", 1)
	b := NewDeviceUID(FamilyCPU, "k10temp", 1)
	c := NewDeviceUID(FamilyHwmon, "k10temp", 2)
	if a == b {
		t.Fatal("expected different family to change the UID")
	}
	if a == c {
		t.Fatal("expected different type-index to change the UID")
	}
}

func TestDeviceHistoryRingDropsOldest(t *testing.T) {
	d := NewDevice("uid-1", "Test Device", FamilyHwmon, 1, DeviceInfo{})
	d.InitializeHistory(Status{Temps: []TempStatus{{Name: "t", Temp: 1}}}, 3)
	d.PushStatus(Status{Temps: []TempStatus{{Name: "t", Temp: 2}}})
	d.PushStatus(Status{Temps: []TempStatus{{Name: "t", Temp: 3}}})
	d.PushStatus(Status{Temps: []TempStatus{{Name: "t", Temp: 4}}})

	if got := d.HistoryLen(); got != 3 {
		t.Fatalf("expected ring capped at 3, got %d", got)
	}
	hist := d.History()
	first, _ := hist[0].TempByName("t")
	if first != 2 {
		t.Fatalf("expected oldest sample (1) dropped, history starts at %v", first)
	}
	cur, ok := d.CurrentStatus()
	if !ok {
		t.Fatal("expected a current status")
	}
	last, _ := cur.TempByName("t")
	if last != 4 {
		t.Fatalf("expected newest sample 4, got %v", last)
	}
}

func TestDeviceHistoryNewestFirst(t *testing.T) {
	d := NewDevice("uid-1", "Test Device", FamilyHwmon, 1, DeviceInfo{})
	d.InitializeHistory(Status{Temps: []TempStatus{{Name: "t", Temp: 1}}}, 5)
	d.PushStatus(Status{Temps: []TempStatus{{Name: "t", Temp: 2}}})
	d.PushStatus(Status{Temps: []TempStatus{{Name: "t", Temp: 3}}})

	nf := d.HistoryNewestFirst()
	if len(nf) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(nf))
	}
	v, _ := nf[0].TempByName("t")
	if v != 3 {
		t.Fatalf("expected newest-first[0] == 3, got %v", v)
	}
}
