package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// PrinterBridgeClient talks to the bridge process on the restaurant LAN that
// can reach printers the cloud cannot. Failures are reported as false, never
// as errors, so callers can branch between cloud and bridge without error
// handling.
type PrinterBridgeClient struct {
	httpClient *http.Client
	log        logrus.FieldLogger
}

// BridgeStatus is the bridge's view of one printer.
type BridgeStatus struct {
	PrinterIP string `json:"printerIp"`
	Online    bool   `json:"online"`
	Message   string `json:"message,omitempty"`
}

type bridgePrintRequest struct {
	PrinterIP string              `json:"printerIp"`
	Receipt   models.PrintPayload `json:"receipt"`
}

type bridgeReply struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

func NewPrinterBridgeClient(timeout time.Duration, log logrus.FieldLogger) *PrinterBridgeClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = utils.InfoLogger
	}
	return &PrinterBridgeClient{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

// PrintViaBridge asks the bridge at bridgeURL to print payload on printerIP.
// It returns true only when the bridge confirms it accepted the job.
func (b *PrinterBridgeClient) PrintViaBridge(ctx context.Context, bridgeURL, printerIP string, payload models.PrintPayload) bool {
	logger := b.log.WithFields(logrus.Fields{"printer_ip": printerIP, "order_number": payload.OrderNumber})

	body, err := json.Marshal(bridgePrintRequest{PrinterIP: printerIP, Receipt: payload.Localized()})
	if err != nil {
		logger.WithError(err).Error("failed to encode bridge print job")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(bridgeURL, "/")+"/print", bytes.NewReader(body))
	if err != nil {
		logger.WithError(err).Warn("invalid printer bridge URL")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		logger.WithError(err).Warn("printer bridge unreachable")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.WithField("status", resp.StatusCode).Warn("printer bridge rejected job")
		return false
	}

	var reply bridgeReply
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &reply); err != nil {
		logger.WithError(err).Warn("printer bridge sent an unreadable reply")
		return false
	}
	if reply.Success == nil || !*reply.Success {
		logger.WithField("message", reply.Message).Warn("printer bridge did not confirm the job")
		return false
	}
	return true
}

// Status asks the bridge whether printerIP is reachable. ok is false when the
// bridge itself could not be reached or answered garbage.
func (b *PrinterBridgeClient) Status(ctx context.Context, bridgeURL, printerIP string) (BridgeStatus, bool) {
	status := BridgeStatus{PrinterIP: printerIP}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(bridgeURL, "/")+"/status/"+url.PathEscape(printerIP), nil)
	if err != nil {
		return status, false
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.log.WithError(err).WithField("printer_ip", printerIP).Debug("printer bridge unreachable")
		return status, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return status, false
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return BridgeStatus{PrinterIP: printerIP}, false
	}
	if status.PrinterIP == "" {
		status.PrinterIP = printerIP
	}
	return status, true
}
