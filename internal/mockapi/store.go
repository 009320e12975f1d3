package mockapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type record = map[string]any

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("conflict")
)

// Collection keys. Each is also the route prefix it is served under.
const (
	colFundRequests = "fund-requests"
	colPayout       = "transactions/payout"
	colRecharge     = "transactions/recharge"
	colDMT          = "transactions/dmt"
	colAEPS         = "transactions/aeps"
	colBBPS         = "transactions/bbps"
	colTickets      = "tickets"
	colBankAccounts = "bank-accounts"
	colMasters      = "master-distributors"
	colDistributors = "distributors"
	colRetailers    = "retailers"
	colCredentials  = "api-credentials"
)

// store is the mock backend's in-memory state. Records are returned as
// copies so handlers never share maps with the store.
type store struct {
	mu   sync.Mutex
	data map[string][]record
}

func newStore() *store {
	return &store{data: map[string][]record{}}
}

func (s *store) list(col string) []record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record, 0, len(s.data[col]))
	for _, r := range s.data[col] {
		out = append(out, clone(r))
	}
	return out
}

func (s *store) get(col, id string) (record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(col, id)
	if i < 0 {
		return nil, errNotFound
	}
	return clone(s.data[col][i]), nil
}

func (s *store) insert(col string, r record) record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[col] = append([]record{r}, s.data[col]...)
	return clone(r)
}

// update applies fn to the stored record under the lock. An error from fn
// leaves the record untouched.
func (s *store) update(col, id string, fn func(cur record) error) (record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(col, id)
	if i < 0 {
		return nil, errNotFound
	}
	next := clone(s.data[col][i])
	if err := fn(next); err != nil {
		return nil, err
	}
	s.data[col][i] = next
	return clone(next), nil
}

func (s *store) remove(col, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(col, id)
	if i < 0 {
		return errNotFound
	}
	s.data[col] = append(s.data[col][:i], s.data[col][i+1:]...)
	return nil
}

func (s *store) exists(col, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(col, id) >= 0
}

func (s *store) indexLocked(col, id string) int {
	for i, r := range s.data[col] {
		if fmt.Sprint(r["id"]) == id {
			return i
		}
	}
	return -1
}

func clone(r record) record {
	out := make(record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func newID() string {
	return uuid.NewString()
}

// seed fills the store with a small deterministic data set anchored at now.
func (s *store) seed(now time.Time) {
	at := func(hoursAgo int) string {
		return now.Add(-time.Duration(hoursAgo) * time.Hour).UTC().Format(time.RFC3339)
	}
	money := func(units int64, cents int64) string {
		return decimal.New(units*100+cents, -2).StringFixed(2)
	}

	masters := []record{
		{"id": "MD001", "name": "Arun Traders", "business_name": "Arun Traders Pvt Ltd", "mobile": "9810000001", "email": "arun@example.in", "wallet_balance": money(250000, 0), "kyc_status": "APPROVED", "status": "ACTIVE", "created_at": at(24 * 90)},
		{"id": "MD002", "name": "Bharat Pay Hub", "business_name": "Bharat Pay Hub LLP", "mobile": "9810000002", "email": "ops@bharatpay.example.in", "wallet_balance": money(118400, 50), "kyc_status": "APPROVED", "status": "ACTIVE", "created_at": at(24 * 60)},
		{"id": "MD003", "name": "Coastal Payments", "business_name": "Coastal Payments", "mobile": "9810000003", "email": "coastal@example.in", "wallet_balance": money(0, 0), "kyc_status": "PENDING", "status": "INACTIVE", "created_at": at(24 * 5)},
	}
	var distributors []record
	for i := 1; i <= 6; i++ {
		distributors = append(distributors, record{
			"id":                    fmt.Sprintf("DS%03d", i),
			"name":                  fmt.Sprintf("Distributor %d", i),
			"business_name":         fmt.Sprintf("Distribution Point %d", i),
			"mobile":                fmt.Sprintf("98200000%02d", i),
			"email":                 fmt.Sprintf("ds%d@example.in", i),
			"master_distributor_id": masters[(i-1)%2]["id"],
			"wallet_balance":        money(int64(20000*i), int64(i*7%100)),
			"kyc_status":            "APPROVED",
			"status":                "ACTIVE",
			"created_at":            at(24 * (40 - i)),
		})
	}
	var retailers []record
	for i := 1; i <= 15; i++ {
		parent := distributors[(i-1)%len(distributors)]["id"]
		if i == 15 {
			parent = "DS999"
		}
		status := "ACTIVE"
		if i%5 == 0 {
			status = "INACTIVE"
		}
		retailers = append(retailers, record{
			"id":             fmt.Sprintf("RT%03d", i),
			"name":           fmt.Sprintf("Retailer %d", i),
			"business_name":  fmt.Sprintf("Corner Store %d", i),
			"mobile":         fmt.Sprintf("99000000%02d", i),
			"email":          fmt.Sprintf("rt%d@example.in", i),
			"distributor_id": parent,
			"wallet_balance": money(int64(1500*i), 25),
			"kyc_status":     []string{"APPROVED", "PENDING"}[i%2],
			"status":         status,
			"created_at":     at(24 * (30 - i)),
		})
	}

	fundStatuses := []string{"PENDING", "ACCEPTED", "REJECTED", "PENDING", "APPROVED"}
	var fundRequests []record
	for i := 1; i <= 25; i++ {
		rt := retailers[(i-1)%len(retailers)]
		r := record{
			"id":             fmt.Sprintf("FR%04d", i),
			"requester_id":   rt["id"],
			"requester_name": rt["name"],
			"bank_name":      []string{"State Bank of India", "HDFC Bank", "ICICI Bank"}[i%3],
			"utr_number":     fmt.Sprintf("UTR%09d", 400000000+i*37),
			"payment_mode":   []string{"IMPS", "NEFT", "UPI"}[i%3],
			"amount":         money(int64(1000*i), 0),
			"status":         fundStatuses[i%len(fundStatuses)],
			"created_at":     at(i * 9),
		}
		if r["status"] == "REJECTED" {
			r["remark"] = "UTR not found in statement"
		}
		fundRequests = append(fundRequests, r)
	}

	txStatuses := []string{"SUCCESS", "SUCCESS", "PENDING", "FAILED", "SUCCESS", "REFUNDED"}
	transactions := func(prefix, operator string, n int) []record {
		var out []record
		for i := 1; i <= n; i++ {
			rt := retailers[(i-1)%len(retailers)]
			amount := decimal.New(int64(150*i+99), 0)
			out = append(out, record{
				"id":             fmt.Sprintf("%s%05d", prefix, i),
				"transaction_id": fmt.Sprintf("%sTX%08d", prefix, 10000000+i*13),
				"retailer_id":    rt["id"],
				"retailer_name":  rt["name"],
				"mobile":         rt["mobile"],
				"account_number": fmt.Sprintf("5010%08d", 1000+i),
				"operator":       operator,
				"utr":            fmt.Sprintf("%d", 300000000000+int64(i)*7919),
				"amount":         amount.StringFixed(2),
				"charges":        amount.Mul(decimal.NewFromFloat(0.01)).Round(2).StringFixed(2),
				"commission":     amount.Mul(decimal.NewFromFloat(0.004)).Round(2).StringFixed(2),
				"status":         txStatuses[i%len(txStatuses)],
				"created_at":     at(i * 5),
			})
		}
		return out
	}

	var tickets []record
	for i := 1; i <= 10; i++ {
		tickets = append(tickets, record{
			"id":                fmt.Sprintf("TK%03d", i),
			"raised_by":         retailers[i%len(retailers)]["id"],
			"subject":           []string{"Amount debited but failed", "Wallet not credited", "KYC document rejected"}[i%3],
			"description":       "Raised from the retailer app.",
			"transaction_id":    fmt.Sprintf("POTX%08d", 10000000+i*13),
			"is_ticket_cleared": i%3 == 0,
			// Tickets report epoch seconds rather than RFC 3339.
			"created_at": now.Add(-time.Duration(i*11) * time.Hour).Unix(),
		})
	}

	bankAccounts := []record{
		{"id": newID(), "account_holder_name": "Arun Traders Pvt Ltd", "bank_name": "State Bank of India", "account_number": "30012345678", "ifsc_code": "SBIN0001234", "branch": "Connaught Place", "status": "ACTIVE", "created_at": at(24 * 80)},
		{"id": newID(), "account_holder_name": "Arun Traders Pvt Ltd", "bank_name": "HDFC Bank", "account_number": "50100123456789", "ifsc_code": "HDFC0000123", "branch": "Karol Bagh", "status": "ACTIVE", "created_at": at(24 * 20)},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[colMasters] = masters
	s.data[colDistributors] = distributors
	s.data[colRetailers] = retailers
	s.data[colFundRequests] = fundRequests
	s.data[colPayout] = transactions("PO", "IMPS Payout", 30)
	s.data[colRecharge] = transactions("RC", "Jio Prepaid", 20)
	s.data[colDMT] = transactions("DM", "Money Transfer", 20)
	s.data[colAEPS] = transactions("AE", "AEPS Withdrawal", 15)
	s.data[colBBPS] = transactions("BB", "Electricity", 12)
	s.data[colTickets] = tickets
	s.data[colBankAccounts] = bankAccounts
	s.data[colCredentials] = []record{}
}

// filter applies the server-side status and date parameters the console
// forwards. Dates are whole days; to is inclusive.
func filter(rows []record, status string, from, to *time.Time) []record {
	status = strings.ToUpper(strings.TrimSpace(status))
	out := make([]record, 0, len(rows))
	for _, r := range rows {
		if status != "" && !statusMatches(r, status) {
			continue
		}
		if from != nil || to != nil {
			ts, ok := createdAt(r)
			if !ok {
				continue
			}
			if from != nil && ts.Before(*from) {
				continue
			}
			if to != nil && !ts.Before(to.AddDate(0, 0, 1)) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func statusMatches(r record, want string) bool {
	got := strings.ToUpper(fmt.Sprint(r["status"]))
	if got == want {
		return true
	}
	// Approval states are stored under both names.
	pair := map[string]string{"ACCEPTED": "APPROVED", "APPROVED": "ACCEPTED"}
	return pair[got] == want
}

func createdAt(r record) (time.Time, bool) {
	switch v := r["created_at"].(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	case int64:
		return time.Unix(v, 0), true
	}
	return time.Time{}, false
}

func sortNewest(rows []record) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := createdAt(rows[i])
		b, _ := createdAt(rows[j])
		return a.After(b)
	})
}
