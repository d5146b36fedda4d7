package domain

// Notification categories, carried as data["category"].
const (
	CategoryNewOrders       = "newOrders"
	CategoryCompletedOrders = "completedOrders"
	CategoryOverdueOrders   = "overdueOrders"
	CategoryDueSoon         = "dueSoon"
	CategoryUrgentOrders    = "urgentOrders"
	CategoryReminders       = "reminders"
)

func NotificationCategories() []string {
	return []string{
		CategoryNewOrders,
		CategoryCompletedOrders,
		CategoryOverdueOrders,
		CategoryDueSoon,
		CategoryUrgentOrders,
		CategoryReminders,
	}
}

type NotificationConfig map[string]bool

// Enabled treats categories without an explicit preference as enabled.
func (c NotificationConfig) Enabled(category string) bool {
	v, ok := c[category]
	return !ok || v
}

func DefaultNotificationConfig() NotificationConfig {
	cfg := make(NotificationConfig, len(NotificationCategories()))
	for _, c := range NotificationCategories() {
		cfg[c] = true
	}
	return cfg
}
