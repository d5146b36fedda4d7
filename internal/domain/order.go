package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type NoteEntry struct {
	At     time.Time `json:"at"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
}

type WorkOrder struct {
	ID                   string      `json:"id"`
	Title                string      `json:"title"`
	Description          string      `json:"description"`
	AssignedVehiclePlate string      `json:"assignedVehiclePlate"`
	DriverName           string      `json:"driverName"`
	Origin               string      `json:"origin"`
	Destination          string      `json:"destination"`
	Client               string      `json:"client"`
	Status               OrderStatus `json:"status"`
	Priority             Priority    `json:"priority"`
	CreatedAt            time.Time   `json:"createdAt"`
	DueAt                time.Time   `json:"dueAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
	Notes                []NoteEntry `json:"notes"`
	EstimatedDistanceKm  float64     `json:"estimatedDistanceKm"`
	EstimatedDuration    string      `json:"estimatedDuration"`
	Cost                 float64     `json:"cost"`
}

func (o WorkOrder) Overdue(now time.Time) bool {
	return o.Status == OrderStatusPending && now.After(o.DueAt)
}

// Clone returns a copy that shares no slice storage with o.
func (o WorkOrder) Clone() WorkOrder {
	if o.Notes != nil {
		notes := make([]NoteEntry, len(o.Notes))
		copy(notes, o.Notes)
		o.Notes = notes
	}
	return o
}

type NewWorkOrder struct {
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	AssignedVehiclePlate string    `json:"assignedVehiclePlate"`
	DriverName           string    `json:"driverName"`
	Origin               string    `json:"origin"`
	Destination          string    `json:"destination"`
	Client               string    `json:"client"`
	Priority             Priority  `json:"priority"`
	DueAt                time.Time `json:"dueAt"`
	Notes                string    `json:"notes"`
	EstimatedDistanceKm  float64   `json:"estimatedDistanceKm"`
	EstimatedDuration    string    `json:"estimatedDuration"`
	Cost                 float64   `json:"cost"`
}

type Statistics struct {
	Total                int `json:"total"`
	Pending              int `json:"pending"`
	InProgress           int `json:"inProgress"`
	Completed            int `json:"completed"`
	Cancelled            int `json:"cancelled"`
	Overdue              int `json:"overdue"`
	CompletionPercentage int `json:"completionPercentage"`
}
