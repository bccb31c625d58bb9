package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
)

const (
	AttendanceEventConfirmed  = "attendance-confirmed"
	realtimeEventReady        = "ready"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeEventSessionEnded = "session-ended"
	realtimeSourceBackend     = "finishline-backend"
)

// AttendanceMessage is one confirmed check-in pushed to the gate staff of a campaign.
type AttendanceMessage struct {
	AttendanceID   string
	CampaignID     string
	PhotographerID string
	ConfirmedAt    time.Time
}

// AttendanceDispatcher fans confirmed attendances out to the subscribers of each campaign.
type AttendanceDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*attendanceSubscriber
	nextID      int64
	bufferSize  int
}

type attendanceSubscriber struct {
	id     int64
	stream chan AttendanceMessage
}

func NewAttendanceDispatcher() *AttendanceDispatcher {
	return &AttendanceDispatcher{
		subscribers: make(map[string]map[int64]*attendanceSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for campaignID until ctx ends or cleanup runs.
func (d *AttendanceDispatcher) Subscribe(ctx context.Context, campaignID string) (<-chan AttendanceMessage, func()) {
	if campaignID == "" {
		ch := make(chan AttendanceMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &attendanceSubscriber{
		id:     d.nextSequence(),
		stream: make(chan AttendanceMessage, d.bufferSize),
	}
	d.registerSubscriber(campaignID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(campaignID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishAttendance implements access.AttendancePublisher.
func (d *AttendanceDispatcher) PublishAttendance(attendance access.EventAttendance) {
	d.Publish(AttendanceMessage{
		AttendanceID:   attendance.ID,
		CampaignID:     attendance.CampaignID,
		PhotographerID: attendance.PhotographerID,
		ConfirmedAt:    attendance.ConfirmedAt,
	})
}

// Publish delivers message without blocking. Slow subscribers drop messages.
func (d *AttendanceDispatcher) Publish(message AttendanceMessage) {
	if message.CampaignID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.CampaignID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*attendanceSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount returns the number of live streams for campaignID.
func (d *AttendanceDispatcher) SubscriberCount(campaignID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[campaignID])
}

func (d *AttendanceDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *AttendanceDispatcher) registerSubscriber(campaignID string, subscriber *attendanceSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[campaignID]; !ok {
		d.subscribers[campaignID] = make(map[int64]*attendanceSubscriber)
	}
	d.subscribers[campaignID][subscriber.id] = subscriber
}

func (d *AttendanceDispatcher) unregisterSubscriber(campaignID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[campaignID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, campaignID)
		}
	}
	d.mu.Unlock()
}
