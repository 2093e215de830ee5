package bars

import "testing"

func s1Calendar() *Calendar {
	return NewCalendar([]Date{
		"20230103", "20230104", "20230105", "20230106",
		"20230109", "20230110", "20230111",
	})
}

func TestRollForwardNonTradingDay(t *testing.T) {
	cal := s1Calendar()
	got, ok := cal.RollForward("20230107") // Saturday, not in calendar
	if !ok {
		t.Fatal("expected a later trading day")
	}
	if got != "20230109" {
		t.Fatalf("RollForward() = %s, want 20230109", got)
	}
}

func TestRollForwardTradingDayIsIdentity(t *testing.T) {
	cal := s1Calendar()
	got, ok := cal.RollForward("20230104")
	if !ok || got != "20230104" {
		t.Fatalf("RollForward() = %s,%v, want 20230104,true", got, ok)
	}
}

func TestAddTradingDaysHoldingPeriod(t *testing.T) {
	cal := s1Calendar()
	due, ok := cal.AddTradingDays("20230104", 5)
	if !ok {
		t.Fatal("expected a due date within the calendar")
	}
	if due != "20230111" {
		t.Fatalf("AddTradingDays() = %s, want 20230111", due)
	}
}

func TestTradingDaysBetween(t *testing.T) {
	cal := s1Calendar()
	n, err := cal.TradingDaysBetween("20230104", "20230111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("TradingDaysBetween() = %d, want 5", n)
	}
}

func TestNextTradingDay(t *testing.T) {
	cal := s1Calendar()
	next, ok := cal.NextTradingDay("20230103")
	if !ok || next != "20230104" {
		t.Fatalf("NextTradingDay() = %s,%v, want 20230104,true", next, ok)
	}
}
