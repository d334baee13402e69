package services

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// BridgeUnreachableReason is the failure shown when the LAN fallback was
// needed but the bridge did not answer.
const BridgeUnreachableReason = "printer bridge unreachable, please check the local printer bridge service"

// PrintRecorder observes the outcome of every dispatch.
type PrintRecorder interface {
	RecordPrint(ctx context.Context, result models.PrintResult)
}

// PrintDispatcher prints through the cloud first and falls back to the LAN
// bridge when the cloud could not reach a private printer address.
type PrintDispatcher struct {
	api       *APIClient
	bridge    *PrinterBridgeClient
	bridgeURL string
	db        *gorm.DB
	recorders []PrintRecorder
	log       logrus.FieldLogger
}

func NewPrintDispatcher(api *APIClient, bridge *PrinterBridgeClient, bridgeURL string, db *gorm.DB, log logrus.FieldLogger) *PrintDispatcher {
	if log == nil {
		log = utils.InfoLogger
	}
	return &PrintDispatcher{api: api, bridge: bridge, bridgeURL: bridgeURL, db: db, log: log}
}

func (d *PrintDispatcher) AddRecorder(r PrintRecorder) {
	d.recorders = append(d.recorders, r)
}

type cloudPrintRequest struct {
	PrinterIP string              `json:"printerIp"`
	Station   string              `json:"station,omitempty"`
	Receipt   models.PrintPayload `json:"receipt"`
}

// Dispatch prints payload on station's printer.
func (d *PrintDispatcher) Dispatch(ctx context.Context, station models.Station, payload models.PrintPayload) models.PrintResult {
	payload.Station = station.Name
	if station.Language != "" {
		payload.Language = station.Language
	}
	result := models.PrintResult{PrinterIP: station.PrinterIP, Station: station.Name}
	logger := d.log.WithFields(logrus.Fields{
		"printer_ip":   station.PrinterIP,
		"station":      station.Name,
		"order_number": payload.OrderNumber,
	})

	if station.PrinterIP == "" {
		result.Outcome = models.PrintFailed
		result.Reason = "station has no printer configured"
		d.finish(ctx, payload, result)
		return result
	}

	req := cloudPrintRequest{PrinterIP: station.PrinterIP, Station: station.Name, Receipt: payload.Localized()}
	err := d.api.do(ctx, "printers.print", http.MethodPost, "/printers/print", req, nil, true)
	switch {
	case err == nil:
		result.Outcome = models.PrintCloudDelivered
	case !IsPrivateAddress(station.PrinterIP):
		result.Outcome = models.PrintFailed
		result.Reason = err.Error()
		logger.WithError(err).Warn("cloud print failed")
	case d.bridge.PrintViaBridge(ctx, d.bridgeURL, station.PrinterIP, payload):
		result.Outcome = models.PrintBridgeDelivered
		logger.WithError(err).Info("cloud could not reach LAN printer, printed through bridge")
	default:
		result.Outcome = models.PrintFailed
		result.Reason = BridgeUnreachableReason
		logger.WithError(err).Warn("cloud print failed and bridge unreachable")
	}

	d.finish(ctx, payload, result)
	return result
}

// DispatchAll prints payload on every station, each in its own language.
func (d *PrintDispatcher) DispatchAll(ctx context.Context, stations []models.Station, payload models.PrintPayload) []models.PrintResult {
	results := make([]models.PrintResult, 0, len(stations))
	for _, st := range stations {
		results = append(results, d.Dispatch(ctx, st, payload))
	}
	return results
}

// Logs returns the recorded attempts for an order, oldest first.
func (d *PrintDispatcher) Logs(ctx context.Context, orderID string) ([]models.PrintLog, error) {
	if d.db == nil {
		return []models.PrintLog{}, nil
	}
	var logs []models.PrintLog
	err := d.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&logs).Error
	return logs, err
}

func (d *PrintDispatcher) finish(ctx context.Context, payload models.PrintPayload, result models.PrintResult) {
	if d.db != nil {
		entry := models.PrintLog{
			JobID:     uuid.NewString(),
			OrderID:   payload.OrderID,
			PrinterIP: result.PrinterIP,
			Station:   result.Station,
			Outcome:   string(result.Outcome),
			Reason:    result.Reason,
			CreatedAt: time.Now(),
		}
		if err := d.db.WithContext(ctx).Create(&entry).Error; err != nil {
			d.log.WithError(err).Warn("failed to write print log")
		}
	}
	for _, r := range d.recorders {
		r.RecordPrint(ctx, result)
	}
}

// IsPrivateAddress reports whether ip is only reachable from inside the
// restaurant network.
func IsPrivateAddress(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}
