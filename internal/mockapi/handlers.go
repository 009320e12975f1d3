package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phillip-england/distconsole/internal/security"
)

// Each list endpoint wraps its rows differently, as the real backend does.
type envelope func(rows []record) any

func envelopeBare(rows []record) any { return rows }

func envelopeData(rows []record) any { return map[string]any{"success": true, "data": rows} }

func envelopeItems(rows []record) any { return map[string]any{"items": rows, "count": len(rows)} }

func envelopeDataItems(rows []record) any {
	return map[string]any{"data": map[string]any{"items": rows, "total": len(rows)}}
}

func envelopeDataPlural(key string) envelope {
	return func(rows []record) any { return map[string]any{"data": map[string]any{key: rows}} }
}

func envelopePlural(key string) envelope {
	return func(rows []record) any { return map[string]any{key: rows} }
}

func envelopeSingularItems(key string) envelope {
	return func(rows []record) any {
		return map[string]any{"data": map[string]any{key: map[string]any{"items": rows}}}
	}
}

type memberTier struct {
	col         string
	parentCol   string
	parentField string
	label       string
}

var memberTiers = []memberTier{
	{col: colMasters, label: "master distributor"},
	{col: colDistributors, parentCol: colMasters, parentField: "master_distributor_id", label: "master distributor"},
	{col: colRetailers, parentCol: colDistributors, parentField: "distributor_id", label: "distributor"},
}

var (
	accountNumberRe = regexp.MustCompile(`^[0-9]{9,18}$`)
	ifscRe          = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
)

func (s *Server) list(col string, wrap envelope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := parseDay(q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		to, err := parseDay(q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		rows := filter(s.store.list(col), q.Get("status"), from, to)
		sortNewest(rows)
		writeJSON(w, http.StatusOK, wrap(rows))
	}
}

func parseDay(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request) (record, bool) {
	in := record{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return in, true
}

func text(in record, key string) string {
	v, ok := in[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// writeStoreError maps store errors onto responses. Any other error is a
// business rule failure whose message goes back verbatim.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, errConflict):
		writeError(w, http.StatusConflict, strings.TrimPrefix(err.Error(), errConflict.Error()+": "))
	default:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errConflict, fmt.Sprintf(format, args...))
}

func (s *Server) createFundRequest(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(text(in, "amount"))
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusUnprocessableEntity, "amount must be greater than zero")
		return
	}
	if text(in, "utr_number") == "" || text(in, "payment_mode") == "" {
		writeError(w, http.StatusUnprocessableEntity, "payment_mode and utr_number are required")
		return
	}
	row := s.store.insert(colFundRequests, record{
		"id":             newID(),
		"requester_id":   s.operator.id,
		"requester_name": s.operator.name,
		"bank_name":      text(in, "bank_name"),
		"utr_number":     text(in, "utr_number"),
		"payment_mode":   strings.ToUpper(text(in, "payment_mode")),
		"amount":         amount.StringFixed(2),
		"remark":         text(in, "remark"),
		"status":         "PENDING",
		"created_at":     s.now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Fund request created", "data": row})
}

func (s *Server) decideFundRequest(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	next := strings.ToUpper(text(in, "status"))
	if next != "ACCEPTED" && next != "APPROVED" && next != "REJECTED" {
		writeError(w, http.StatusUnprocessableEntity, "status must be ACCEPTED or REJECTED")
		return
	}
	if next == "REJECTED" && text(in, "remark") == "" {
		writeError(w, http.StatusUnprocessableEntity, "a remark is required to reject a request")
		return
	}
	row, err := s.store.update(colFundRequests, chi.URLParam(r, "id"), func(cur record) error {
		if cur["status"] != "PENDING" {
			return conflict("Fund request is already %s", cur["status"])
		}
		cur["status"] = next
		cur["remark"] = text(in, "remark")
		cur["decided_at"] = s.now().UTC().Format(time.RFC3339)
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Fund request updated", "data": row})
}

func (s *Server) statusCheck(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.update(colPayout, chi.URLParam(r, "id"), func(cur record) error {
		if cur["status"] != "PENDING" {
			return conflict("Transaction is already %s", cur["status"])
		}
		cur["status"] = "SUCCESS"
		cur["checked_at"] = s.now().UTC().Format(time.RFC3339)
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": row})
}

func (s *Server) clearTicket(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	row, err := s.store.update(colTickets, chi.URLParam(r, "id"), func(cur record) error {
		if cleared, _ := cur["is_ticket_cleared"].(bool); cleared {
			return conflict("Ticket is already cleared")
		}
		cur["is_ticket_cleared"] = true
		cur["resolution"] = text(in, "resolution")
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": row})
}

func validateAccount(in record, partial bool) error {
	for _, key := range []string{"account_holder_name", "bank_name", "account_number", "ifsc_code"} {
		_, present := in[key]
		if (!partial || present) && text(in, key) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if v := text(in, "account_number"); v != "" && !accountNumberRe.MatchString(v) {
		return errors.New("account_number must be 9 to 18 digits")
	}
	if v := text(in, "ifsc_code"); v != "" && !ifscRe.MatchString(v) {
		return errors.New("ifsc_code is not a valid IFSC")
	}
	return nil
}

func (s *Server) createBankAccount(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if err := validateAccount(in, false); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	for _, existing := range s.store.list(colBankAccounts) {
		if existing["account_number"] == text(in, "account_number") {
			writeError(w, http.StatusConflict, "This account number is already registered")
			return
		}
	}
	row := s.store.insert(colBankAccounts, record{
		"id":                  newID(),
		"account_holder_name": text(in, "account_holder_name"),
		"bank_name":           text(in, "bank_name"),
		"account_number":      text(in, "account_number"),
		"ifsc_code":           text(in, "ifsc_code"),
		"branch":              text(in, "branch"),
		"status":              "ACTIVE",
		"created_at":          s.now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Bank account added", "data": row})
}

func (s *Server) updateBankAccount(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if err := validateAccount(in, true); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	row, err := s.store.update(colBankAccounts, chi.URLParam(r, "id"), func(cur record) error {
		for _, key := range []string{"account_holder_name", "bank_name", "account_number", "ifsc_code", "branch"} {
			if _, ok := in[key]; ok {
				cur[key] = text(in, key)
			}
		}
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Bank account updated", "data": row})
}

func (s *Server) deleteBankAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.store.remove(colBankAccounts, chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Bank account deleted"})
}

// reassignMember moves a distributor or retailer under a new parent.
func (s *Server) reassignMember(t memberTier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if t.parentField == "" {
			writeError(w, http.StatusUnprocessableEntity, "master distributors have no parent")
			return
		}
		in, ok := decodeBody(w, r)
		if !ok {
			return
		}
		parent := text(in, t.parentField)
		if parent == "" {
			writeError(w, http.StatusUnprocessableEntity, t.parentField+" is required")
			return
		}
		if !s.store.exists(t.parentCol, parent) {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Unknown %s %s", t.label, parent))
			return
		}
		row, err := s.store.update(t.col, chi.URLParam(r, "id"), func(cur record) error {
			cur[t.parentField] = parent
			return nil
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Reassigned", "data": row})
	}
}

func (s *Server) setMemberField(col, field string, allowed ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodeBody(w, r)
		if !ok {
			return
		}
		value := strings.ToUpper(text(in, field))
		valid := false
		for _, a := range allowed {
			valid = valid || a == value
		}
		if !valid {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s must be one of %s", field, strings.Join(allowed, ", ")))
			return
		}
		row, err := s.store.update(col, chi.URLParam(r, "id"), func(cur record) error {
			cur[field] = value
			if remark := text(in, "remark"); remark != "" {
				cur["remark"] = remark
			}
			return nil
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": row})
	}
}

func (s *Server) createCredential(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if text(in, "name") == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	secret, err := security.NewSecret(24)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not generate a secret")
		return
	}
	row := s.store.insert(colCredentials, record{
		"id":              newID(),
		"name":            text(in, "name"),
		"client_id":       "dc_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		"client_secret":   security.Mask(secret),
		"whitelisted_ip":  text(in, "whitelisted_ip"),
		"callback_url":    text(in, "callback_url"),
		"callback_mobile": text(in, "callback_mobile"),
		"status":          "ACTIVE",
		"created_at":      s.now().UTC().Format(time.RFC3339),
	})
	// The plain secret is only ever returned here and on regenerate.
	row["client_secret"] = secret
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Credential created", "data": row})
}

func (s *Server) regenerateCredential(w http.ResponseWriter, r *http.Request) {
	secret, err := security.NewSecret(24)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not generate a secret")
		return
	}
	row, err := s.store.update(colCredentials, chi.URLParam(r, "id"), func(cur record) error {
		if cur["status"] != "ACTIVE" {
			return conflict("Credential is %s", cur["status"])
		}
		cur["client_secret"] = security.Mask(secret)
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	row["client_secret"] = secret
	writeJSON(w, http.StatusOK, map[string]any{"message": "Secret regenerated", "data": row})
}

func (s *Server) revokeCredential(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.update(colCredentials, chi.URLParam(r, "id"), func(cur record) error {
		if cur["status"] == "REVOKED" {
			return conflict("Credential is already revoked")
		}
		cur["status"] = "REVOKED"
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Credential revoked", "data": row})
}
