package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/service"
	"github.com/entrhq/reimburse/pkg/types"
)

// invoice is one expense as posted by the web form and the chat bot.
type invoice struct {
	Date             string          `json:"date"`
	Amount           decimal.Decimal `json:"amount"`
	Merchant         string          `json:"merchant"`
	InvoiceNumber    string          `json:"invoiceNumber"`
	Description      string          `json:"description"`
	CategoryValue    string          `json:"categoryValue"`
	ExpenseTypeValue string          `json:"expenseTypeValue"`

	// InvoiceID references a file stored by /api/batch-upload, used when
	// no file_<i> part is sent.
	InvoiceID string `json:"invoiceId,omitempty"`
}

func (inv invoice) record() (types.ExpenseRecord, error) {
	date, err := types.ParseDate(inv.Date)
	if err != nil {
		return types.ExpenseRecord{}, fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return types.ExpenseRecord{
		Date:             date,
		Amount:           inv.Amount,
		Merchant:         strings.TrimSpace(inv.Merchant),
		InvoiceNumber:    strings.TrimSpace(inv.InvoiceNumber),
		Description:      strings.TrimSpace(inv.Description),
		CategoryValue:    inv.CategoryValue,
		ExpenseTypeValue: inv.ExpenseTypeValue,
	}, nil
}

type ocrData struct {
	Date             string          `json:"date"`
	Amount           decimal.Decimal `json:"amount"`
	Merchant         string          `json:"merchant"`
	InvoiceNumber    string          `json:"invoiceNumber,omitempty"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	CategoryValue    string          `json:"categoryValue"`
	ExpenseTypeValue string          `json:"expenseTypeValue"`
}

// handleOCR handles POST /api/ocr
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded", err)
		return
	}
	_, mimeType, data, ok, err := formFile(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded", err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "No file uploaded", nil)
		return
	}

	out, err := s.backend.Extract(r.Context(), data, mimeType)
	if err != nil {
		s.logger.Errorf("extraction failed: %v", err)
		writeError(w, statusFor(err), "Failed to process image", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": ocrData{
			Date:             out.Fields.Date,
			Amount:           out.Fields.Amount,
			Merchant:         out.Fields.Merchant,
			InvoiceNumber:    out.Fields.InvoiceNumber,
			Description:      out.Fields.Description,
			Category:         out.Fields.Category,
			CategoryValue:    out.Mapping.CategoryValue,
			ExpenseTypeValue: out.Mapping.ExpenseTypeValue,
		},
	})
}

// handleSubmit handles POST /api/submit with one expense and its receipt.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data", err)
		return
	}
	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required. Please login first.", nil)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("amount")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	inv := invoice{
		Date:             r.FormValue("date"),
		Amount:           amount,
		Merchant:         r.FormValue("merchant"),
		InvoiceNumber:    r.FormValue("invoiceNumber"),
		Description:      r.FormValue("description"),
		CategoryValue:    r.FormValue("categoryValue"),
		ExpenseTypeValue: r.FormValue("expenseTypeValue"),
	}
	rec, err := inv.record()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields", err)
		return
	}

	name, _, data, ok, err := formFile(r, "file")
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "Receipt file is required", err)
		return
	}

	item := service.Item{Record: rec, Receipt: service.Receipt{Name: name, Data: data}}
	res, err := s.backend.Submit(r.Context(), sessionID, r.FormValue("taskId"), item)
	if err == nil && res != nil && res.FailedCount > 0 {
		err = fmt.Errorf("%s", res.Results[0].Error)
	}
	if err != nil {
		s.logger.Errorf("submit for session %s failed: %v", sessionID, err)
		writeError(w, statusFor(err), "Failed to submit reimbursement", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Expense form filled and file uploaded successfully",
		"taskId":  res.TaskID,
		"data": map[string]any{
			"date":          rec.Date.Format(types.DateLayout),
			"amount":        rec.Amount,
			"merchant":      rec.Merchant,
			"invoiceNumber": rec.InvoiceNumber,
			"description":   rec.Description,
			"fileUploaded":  true,
		},
	})
}

// handleBulkSubmit handles POST /api/bulk-submit: an "invoices" JSON array
// plus one file_<i> part per invoice.
//
// The batch runs on a context detached from the request; a client that
// disconnects can keep polling /api/submit-progress.
func (s *Server) handleBulkSubmit(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data", err)
		return
	}
	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required", nil)
		return
	}
	raw := r.FormValue("invoices")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Invoices data is required", nil)
		return
	}
	var invoices []invoice
	if err := json.Unmarshal([]byte(raw), &invoices); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid invoices data format", err)
		return
	}
	if len(invoices) == 0 {
		writeError(w, http.StatusBadRequest, "At least one invoice is required", nil)
		return
	}

	items := make([]service.Item, 0, len(invoices))
	for i, inv := range invoices {
		rec, err := inv.record()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invoice %d is invalid", i+1), err)
			return
		}
		receipt, err := s.receiptFor(r, i, inv)
		if err != nil {
			writeError(w, statusFor(err), fmt.Sprintf("Expected %d files but file_%d is missing", len(invoices), i), err)
			return
		}
		items = append(items, service.Item{Record: rec, Receipt: receipt})
	}

	ctx := context.WithoutCancel(r.Context())
	res, err := s.backend.SubmitBatch(ctx, sessionID, r.FormValue("taskId"), items)
	if err != nil && res == nil {
		s.logger.Errorf("bulk submit for session %s failed: %v", sessionID, err)
		writeError(w, statusFor(err), "Failed to submit expenses", err)
		return
	}

	s.markSubmitted(invoices, res)

	body := map[string]any{
		"success":      err == nil,
		"message":      res.Summary(),
		"taskId":       res.TaskID,
		"results":      res.Results,
		"successCount": res.SuccessCount,
		"failedCount":  res.FailedCount,
		"totalCount":   res.TotalCount,
	}
	status := http.StatusOK
	if err != nil {
		s.logger.Errorf("bulk submit for session %s stopped: %v", sessionID, err)
		body["error"] = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, body)
}

// receiptFor returns the file_<i> part, or the stored upload it references.
func (s *Server) receiptFor(r *http.Request, i int, inv invoice) (service.Receipt, error) {
	name, _, data, ok, err := formFile(r, fmt.Sprintf("file_%d", i))
	if err != nil {
		return service.Receipt{}, fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	if ok {
		return service.Receipt{Name: name, Data: data}, nil
	}
	if inv.InvoiceID == "" {
		return service.Receipt{}, fmt.Errorf("%w: no receipt for invoice %d", service.ErrInvalidInput, i+1)
	}
	up, data, err := s.uploads.ReadUpload(inv.InvoiceID)
	if err != nil {
		return service.Receipt{}, err
	}
	return service.Receipt{Name: up.FileName, Data: data}, nil
}

// markSubmitted flags stored uploads whose expense went through.
func (s *Server) markSubmitted(invoices []invoice, res *types.BatchResult) {
	for _, rr := range res.Results {
		if !rr.Success || rr.Index >= len(invoices) || invoices[rr.Index].InvoiceID == "" {
			continue
		}
		if err := s.uploads.MarkUpload(invoices[rr.Index].InvoiceID, scratch.StatusSubmitted); err != nil {
			s.logger.Warnf("could not mark upload %s submitted: %v", invoices[rr.Index].InvoiceID, err)
		}
	}
}

// handleProgress handles GET /api/submit-progress?taskId=
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "Task ID is required", nil)
		return
	}
	u := s.backend.Progress(taskID)
	writeJSON(w, http.StatusOK, map[string]any{"progress": u.Percentage, "message": u.Message})
}
