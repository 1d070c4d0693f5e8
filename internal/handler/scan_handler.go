// internal/handler/scan_handler.go
package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mdt-discovery/internal/service"
	"mdt-discovery/internal/utils"
)

// ScanHandler handles identification scan requests
type ScanHandler struct {
	scanService *service.ScanService
	logger      *utils.ServiceLogger
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scanService *service.ScanService, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{
		scanService: scanService,
		logger:      utils.NewServiceLogger(logger, "scan-handler"),
	}
}

// RunScan runs a full identification scan
// @Summary Run identification scan
// @Description Probe every visible serial port for an MDT controller and return one verdict per port
// @Tags Scan
// @Accept json
// @Produce json
// @Param baud query int false "Baud rate override" default(115200)
// @Param timeout query string false "Per-read timeout override" default(300ms)
// @Param workers query int false "Concurrent probe limit"
// @Success 200 {object} utils.APIResponse "Scan completed"
// @Failure 400 {object} utils.APIResponse "Invalid parameters"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /scan [post]
func (h *ScanHandler) RunScan(c *gin.Context) {
	opts, err := scanOptionsFromQuery(c)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid scan parameters", err)
		return
	}

	result, err := h.scanService.Scan(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("Failed to run scan", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to run scan", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Scan completed", gin.H{
		"scan_id":  result.ScanID,
		"ports":    result.Len(),
		"matches":  len(result.Matches()),
		"duration": result.Duration.String(),
		"results":  result,
	})
}

// LastResult returns the most recent scan result
// @Summary Last scan result
// @Description Return the most recent completed scan held in memory
// @Tags Scan
// @Produce json
// @Success 200 {object} utils.APIResponse "Last result"
// @Failure 404 {object} utils.APIResponse "No scan has completed yet"
// @Router /scan/last [get]
func (h *ScanHandler) LastResult(c *gin.Context) {
	result := h.scanService.LastResult()
	if result == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "No scan has completed yet", nil)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Last scan result", gin.H{
		"scan_id":  result.ScanID,
		"ports":    result.Len(),
		"matches":  len(result.Matches()),
		"duration": result.Duration.String(),
		"results":  result,
	})
}

// ListPorts lists candidate serial ports without probing
// @Summary List serial ports
// @Description Enumerate candidate serial ports with available metadata, without sending any command
// @Tags Scan
// @Produce json
// @Success 200 {object} utils.APIResponse "Ports enumerated"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /ports [get]
func (h *ScanHandler) ListPorts(c *gin.Context) {
	ports, err := h.scanService.ListPorts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports enumerated", gin.H{
		"count": len(ports),
		"ports": ports,
	})
}

// scanOptionsFromQuery parses optional probe overrides from the query string.
func scanOptionsFromQuery(c *gin.Context) (service.ScanOptions, error) {
	var opts service.ScanOptions

	if baud := c.Query("baud"); baud != "" {
		v, err := strconv.Atoi(baud)
		if err != nil || v <= 0 {
			return opts, &strconv.NumError{Func: "baud", Num: baud, Err: strconv.ErrSyntax}
		}
		opts.BaudRate = v
	}

	if timeout := c.Query("timeout"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return opts, err
		}
		if d <= 0 {
			return opts, fmt.Errorf("timeout must be positive: %s", timeout)
		}
		opts.ReadTimeout = d
	}

	if workers := c.Query("workers"); workers != "" {
		v, err := strconv.Atoi(workers)
		if err != nil || v <= 0 {
			return opts, &strconv.NumError{Func: "workers", Num: workers, Err: strconv.ErrSyntax}
		}
		opts.Workers = v
	}

	return opts, nil
}
