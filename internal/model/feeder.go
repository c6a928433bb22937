package model

import "time"

// StorageState reports how much food remains in a feeder's storage tank,
// as signaled by the device itself.
type StorageState string

const (
	StorageLow   StorageState = "LOW"
	StorageEmpty StorageState = "EMPTY"
)

// Feeder is the persisted state of a single device. Telemetry updates are
// field-scoped merges: a metric only ever touches its own field.
type Feeder struct {
	ID            string       `firestore:"-" json:"id"`
	Status        string       `firestore:"status" json:"status"`
	BowlLevel     float64      `firestore:"bowlLevel" json:"bowl_level"`
	LastPortion   float64      `firestore:"lastPortion" json:"last_portion"`
	CurrentWeight float64      `firestore:"currentWeight" json:"current_weight"`
	StorageState  StorageState `firestore:"storageState" json:"storage_state"`
}

// FeedingStatus is the outcome a device reported for a feeding event.
type FeedingStatus string

const (
	FeedingCompleted            FeedingStatus = "completed"
	FeedingFailed               FeedingStatus = "failed"
	FeedingSkipped              FeedingStatus = "skipped"
	FeedingRejectedNoPortion    FeedingStatus = "rejected_no_portion"
	FeedingRejectedEmptyStorage FeedingStatus = "rejected_empty_storage"
	FeedingRejectedBusy         FeedingStatus = "rejected_busy"
)

// LogSourceDevice marks log entries that originate from device telemetry.
const LogSourceDevice = "device"

// FeedingLogEntry records one feeding event under a feeder. Entries are
// append-only and immutable once written. Timestamp is assigned by the store.
type FeedingLogEntry struct {
	ID          string        `firestore:"-" json:"id"`
	PortionSize float64       `firestore:"portionSize" json:"portion_size"`
	Timestamp   time.Time     `firestore:"timestamp,serverTimestamp" json:"timestamp"`
	Source      string        `firestore:"source" json:"source"`
	Status      FeedingStatus `firestore:"status" json:"status"`
}

// Notification setting keys recognized in User.Settings.
const (
	SettingLowFoodAlerts    = "lowFoodAlerts"
	SettingFeedingReminders = "feedingReminders"
)

// User links an email address to a feeder. Users are owned by an external
// registration flow; the bridge only reads them for notification fan-out.
type User struct {
	ID       string          `firestore:"-" json:"id"`
	FeederID string          `firestore:"feederId" json:"feeder_id"`
	Email    string          `firestore:"email" json:"email"`
	Settings map[string]bool `firestore:"settings" json:"settings"`
}

// FeedingSchedule is a command the dispatcher owes a device. Sent transitions
// from false to true exactly once, performed only by the dispatcher's claim.
type FeedingSchedule struct {
	ID            string    `firestore:"-" json:"id"`
	FeederID      string    `firestore:"-" json:"feeder_id"`
	ScheduledTime time.Time `firestore:"scheduledTime" json:"scheduled_time"`
	Sent          bool      `firestore:"sent" json:"sent"`
	PortionSize   float64   `firestore:"portionSize" json:"portion_size"`
}
