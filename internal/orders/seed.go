package orders

import (
	"time"

	"github.com/joao-fontenele/fleetorders/internal/domain"
)

// Five orders: every status, one overdue, one due within two hours.
func seedOrders(now time.Time) []domain.WorkOrder {
	note := func(at time.Time, text string) []domain.NoteEntry {
		return []domain.NoteEntry{{At: at, Author: defaultActor, Text: text}}
	}

	return []domain.WorkOrder{
		{
			ID:                   "ORD-001",
			Title:                "Cement delivery to plant",
			Description:          "40 pallets of bagged cement, tail-lift required",
			AssignedVehiclePlate: "ABC-123",
			DriverName:           "Juan Pérez",
			Origin:               "Bodega Central, Monterrey",
			Destination:          "Planta Norte, Saltillo",
			Client:               "Constructora Andes",
			Status:               domain.OrderStatusPending,
			Priority:             domain.PriorityHigh,
			CreatedAt:            now.Add(-2 * time.Hour),
			DueAt:                now.Add(90 * time.Minute),
			UpdatedAt:            now.Add(-2 * time.Hour),
			Notes:                []domain.NoteEntry{},
			EstimatedDistanceKm:  85,
			EstimatedDuration:    "1h 30m",
			Cost:                 4200,
		},
		{
			ID:                   "ORD-002",
			Title:                "Refrigerated produce run",
			Description:          "Keep between 2 and 4 °C",
			AssignedVehiclePlate: "XYZ-789",
			DriverName:           "María González",
			Origin:               "Central de Abastos, CDMX",
			Destination:          "Centro de Distribución, Querétaro",
			Client:               "Frescos del Bajío",
			Status:               domain.OrderStatusInProgress,
			Priority:             domain.PriorityMedium,
			CreatedAt:            now.Add(-5 * time.Hour),
			DueAt:                now.Add(6 * time.Hour),
			UpdatedAt:            now.Add(-3 * time.Hour),
			Notes:                note(now.Add(-3*time.Hour), "Loaded and departed"),
			EstimatedDistanceKm:  215,
			EstimatedDuration:    "3h",
			Cost:                 7800,
		},
		{
			ID:                   "ORD-003",
			Title:                "Spare parts for stranded unit",
			Description:          "Brake kit and two drive tires",
			AssignedVehiclePlate: "DEF-456",
			DriverName:           "Carlos Ramírez",
			Origin:               "Taller Matriz, Guadalajara",
			Destination:          "Km 112 Carretera 15D",
			Client:               "Transportes Jalisco",
			Status:               domain.OrderStatusPending,
			Priority:             domain.PriorityUrgent,
			CreatedAt:            now.Add(-4 * time.Hour),
			DueAt:                now.Add(-time.Hour),
			UpdatedAt:            now.Add(-4 * time.Hour),
			Notes:                []domain.NoteEntry{},
			EstimatedDistanceKm:  112,
			EstimatedDuration:    "2h",
			Cost:                 3100,
		},
		{
			ID:                   "ORD-004",
			Title:                "Office furniture move",
			Description:          "Desks and filing cabinets, two floors",
			AssignedVehiclePlate: "GHI-321",
			DriverName:           "Ana Torres",
			Origin:               "Av. Reforma 222, CDMX",
			Destination:          "Santa Fe Corporativo, CDMX",
			Client:               "Grupo Reforma",
			Status:               domain.OrderStatusCompleted,
			Priority:             domain.PriorityLow,
			CreatedAt:            now.Add(-48 * time.Hour),
			DueAt:                now.Add(-24 * time.Hour),
			UpdatedAt:            now.Add(-26 * time.Hour),
			Notes:                note(now.Add(-26*time.Hour), "Delivered, signed by reception"),
			EstimatedDistanceKm:  18,
			EstimatedDuration:    "4h",
			Cost:                 2500,
		},
		{
			ID:                   "ORD-005",
			Title:                "Steel coil transfer",
			Description:          "Client postponed pickup",
			AssignedVehiclePlate: "JKL-654",
			DriverName:           "Luis Hernández",
			Origin:               "Puerto de Veracruz",
			Destination:          "Parque Industrial, Puebla",
			Client:               "Aceros del Golfo",
			Status:               domain.OrderStatusCancelled,
			Priority:             domain.PriorityMedium,
			CreatedAt:            now.Add(-24 * time.Hour),
			DueAt:                now.Add(48 * time.Hour),
			UpdatedAt:            now.Add(-12 * time.Hour),
			Notes:                note(now.Add(-12*time.Hour), "Cancelled: client postponed"),
			EstimatedDistanceKm:  290,
			EstimatedDuration:    "5h",
			Cost:                 9600,
		},
	}
}
