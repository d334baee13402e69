package models

import "time"

// PrintLine is one line of a station ticket. Translations maps a language
// code to the item name printed for stations that use that language.
type PrintLine struct {
	Name         string            `json:"name"`
	Quantity     int               `json:"quantity"`
	Notes        string            `json:"notes,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
}

// NameFor returns the line name in lang, falling back to the default name.
func (l PrintLine) NameFor(lang string) string {
	if lang != "" {
		if name, ok := l.Translations[lang]; ok && name != "" {
			return name
		}
	}
	return l.Name
}

// PrintPayload is what gets sent to a printer, by the cloud or the LAN bridge.
type PrintPayload struct {
	OrderID     string      `json:"orderId,omitempty"`
	OrderNumber string      `json:"orderNumber"`
	TableNumber int         `json:"tableNumber"`
	Station     string      `json:"station,omitempty"`
	Language    string      `json:"language,omitempty"`
	Items       []PrintLine `json:"items"`
}

// Localized returns a copy with every line name resolved for the payload language.
func (p PrintPayload) Localized() PrintPayload {
	out := p
	out.Items = make([]PrintLine, len(p.Items))
	for i, line := range p.Items {
		line.Name = line.NameFor(p.Language)
		out.Items[i] = line
	}
	return out
}

// Station is a kitchen or bar printer with its ticket language.
type Station struct {
	Name      string `json:"name" yaml:"name"`
	PrinterIP string `json:"printerIp" yaml:"printer_ip"`
	Language  string `json:"language,omitempty" yaml:"language"`
}

type PrintOutcome string

const (
	PrintCloudDelivered  PrintOutcome = "cloud_delivered"
	PrintBridgeDelivered PrintOutcome = "bridge_delivered"
	PrintFailed          PrintOutcome = "failed"
)

// PrintResult tells the caller which path delivered the ticket. Reason is set
// only for PrintFailed.
type PrintResult struct {
	Outcome   PrintOutcome `json:"outcome"`
	Reason    string       `json:"reason,omitempty"`
	PrinterIP string       `json:"printerIp"`
	Station   string       `json:"station,omitempty"`
}

func (r PrintResult) Delivered() bool {
	return r.Outcome == PrintCloudDelivered || r.Outcome == PrintBridgeDelivered
}

// PrintLog records every dispatch attempt for the cashier panel.
type PrintLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"job_id"`
	OrderID   string    `gorm:"type:varchar(64);index" json:"order_id"`
	PrinterIP string    `gorm:"type:varchar(64);not null" json:"printer_ip"`
	Station   string    `gorm:"type:varchar(64)" json:"station"`
	Outcome   string    `gorm:"type:varchar(20);not null" json:"outcome"`
	Reason    string    `gorm:"type:text" json:"reason"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
