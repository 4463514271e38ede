package ecolearn

import "time"

// Observer receives activity counters. *metrics.Collector implements it.
type Observer interface {
	ObserveAuth(op string, elapsed time.Duration, err error)
	ObserveProfileFetch(outcome string)
	ObserveNotification(action, typ string)
	SetUnread(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveAuth(string, time.Duration, error) {}
func (nopObserver) ObserveProfileFetch(string)               {}
func (nopObserver) ObserveNotification(string, string)       {}
func (nopObserver) SetUnread(int)                            {}
