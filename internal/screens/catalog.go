package screens

import (
	"net/http"
	"strings"

	"github.com/phillip-england/distconsole/internal/export"
	"github.com/phillip-england/distconsole/internal/listctl"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/report"
)

// Screen names.
const (
	FundRequests         = "fund-requests"
	PayoutTransactions   = "payout-transactions"
	RechargeTransactions = "recharge-transactions"
	DMTTransactions      = "dmt-transactions"
	AEPSTransactions     = "aeps-transactions"
	BillPayments         = "bill-payments"
	Tickets              = "tickets"
	BankAccounts         = "bank-accounts"
	MasterDistributors   = "master-distributors"
	Distributors         = "distributors"
	Retailers            = "retailers"
	APICredentials       = "api-credentials"
)

// approvalAliases folds APPROVED onto ACCEPTED. Some endpoints report the
// same state under either name.
var approvalAliases = map[string]string{"APPROVED": "ACCEPTED"}

var allDates = []string{listctl.ParamFrom, listctl.ParamTo}

func col(key, header string, kind export.Kind) export.Column {
	return export.Column{Key: key, Header: header, Kind: kind}
}

func sum(key, header string) export.Column {
	return export.Column{Key: key, Header: header, Kind: export.Currency, Sum: true}
}

// Default returns the console's screen catalog.
func Default() *Catalog {
	return NewCatalog(
		fundRequests(),
		transactions(PayoutTransactions, "Payout Transactions", "/transactions/payout", "payoutTransaction", "payoutTransactions", "payout_report", true),
		transactions(RechargeTransactions, "Recharge Transactions", "/transactions/recharge", "rechargeTransaction", "rechargeTransactions", "recharge_report", false),
		transactions(DMTTransactions, "DMT Transactions", "/transactions/dmt", "dmtTransaction", "dmtTransactions", "dmt_report", false),
		transactions(AEPSTransactions, "AEPS Transactions", "/transactions/aeps", "aepsTransaction", "aepsTransactions", "aeps_report", false),
		transactions(BillPayments, "Bill Payments", "/transactions/bbps", "billPayment", "billPayments", "bill_payment_report", false),
		tickets(),
		bankAccounts(),
		members(MasterDistributors, "Master Distributors", "/master-distributors", "masterDistributor", "masterDistributors", ""),
		members(Distributors, "Distributors", "/distributors", "distributor", "distributors", "master_distributor_id"),
		members(Retailers, "Retailers", "/retailers", "retailer", "retailers", "distributor_id"),
		apiCredentials(),
	)
}

func fundRequests() Screen {
	return Screen{
		Name:     FundRequests,
		Title:    "Fund Requests",
		Resource: remote.Resource{Path: "/fund-requests", Singular: "fundRequest", Plural: "fundRequests"},
		Fields: report.Fields{
			Search:        []string{"id", "requester_name", "requester_id", "utr_number", "bank_name", "remark"},
			Status:        "status",
			Timestamp:     "created_at",
			StatusAliases: approvalAliases,
		},
		Projection: export.Projection{Columns: []export.Column{
			col("id", "Request ID", export.Identifier),
			col("requester_id", "Requester ID", export.Identifier),
			col("requester_name", "Requester", export.Text),
			col("bank_name", "Bank", export.Text),
			col("utr_number", "UTR", export.Identifier),
			col("payment_mode", "Mode", export.Text),
			sum("amount", "Amount"),
			col("status", "Status", export.Status),
			col("remark", "Remark", export.Text),
			col("created_at", "Requested At", export.Date),
		}},
		ServerParams: []string{listctl.ParamStatus, listctl.ParamFrom, listctl.ParamTo},
		ExportPrefix: "fund_requests",
		Statuses:     []string{"PENDING", "ACCEPTED", "REJECTED"},
		Actions: []Action{
			{
				Name: "create", Label: "Raise request", Method: http.MethodPost, Path: "/fund-requests",
				Accept:   []string{"amount", "payment_mode", "utr_number", "bank_name", "remark"},
				Validate: validateFundRequestCreate, Success: "Fund request submitted.",
			},
			{
				Name: "approve", Label: "Accept", Method: http.MethodPatch, Path: "/fund-requests/{id}",
				Fixed: map[string]any{"status": "ACCEPTED"}, Accept: []string{"remark"},
				From: []string{"PENDING"}, Success: "Fund request accepted.", PerRow: true,
			},
			{
				Name: "reject", Label: "Reject", Method: http.MethodPatch, Path: "/fund-requests/{id}",
				Fixed: map[string]any{"status": "REJECTED"}, Accept: []string{"remark"},
				From: []string{"PENDING"}, Validate: validateReject, Success: "Fund request rejected.", PerRow: true,
			},
		},
	}
}

func transactions(name, title, path, singular, plural, prefix string, recheck bool) Screen {
	s := Screen{
		Name:     name,
		Title:    title,
		Resource: remote.Resource{Path: path, Singular: singular, Plural: plural},
		Fields: report.Fields{
			Search:    []string{"id", "transaction_id", "retailer_id", "retailer_name", "account_number", "mobile", "utr", "operator"},
			Status:    "status",
			Timestamp: "created_at",
		},
		Projection: export.Projection{Columns: []export.Column{
			col("transaction_id", "Transaction ID", export.Identifier),
			col("retailer_id", "Retailer ID", export.Identifier),
			col("retailer_name", "Retailer", export.Text),
			col("mobile", "Mobile", export.Identifier),
			col("account_number", "Account Number", export.Identifier),
			col("operator", "Operator / Bank", export.Text),
			col("utr", "UTR", export.Identifier),
			sum("amount", "Amount"),
			sum("charges", "Charges"),
			sum("commission", "Commission"),
			col("status", "Status", export.Status),
			col("created_at", "Date", export.Date),
		}},
		ServerParams: allDates,
		ExportPrefix: prefix,
		Statuses:     []string{"SUCCESS", "PENDING", "FAILED", "REFUNDED"},
	}
	if recheck {
		s.Actions = append(s.Actions, Action{
			Name: "recheck", Label: "Check status", Method: http.MethodPost, Path: path + "/{id}/status-check",
			From: []string{"PENDING"}, Success: "Status check requested.", PerRow: true,
		})
	}
	return s
}

func tickets() Screen {
	return Screen{
		Name:     Tickets,
		Title:    "Support Tickets",
		Resource: remote.Resource{Path: "/tickets", Singular: "ticket", Plural: "tickets"},
		Fields: report.Fields{
			Search:    []string{"id", "subject", "description", "raised_by", "transaction_id"},
			Status:    "is_ticket_cleared",
			Timestamp: "created_at",
			// The clear flag is a boolean; filter on readable names.
			StatusAliases: map[string]string{"TRUE": "CLEARED", "FALSE": "OPEN"},
		},
		Projection: export.Projection{Columns: []export.Column{
			col("id", "Ticket ID", export.Identifier),
			col("raised_by", "Raised By", export.Identifier),
			col("subject", "Subject", export.Text),
			col("transaction_id", "Transaction ID", export.Identifier),
			col("is_ticket_cleared", "Cleared", export.Status),
			col("created_at", "Raised At", export.Date),
		}},
		ExportPrefix: "tickets",
		Statuses:     []string{"OPEN", "CLEARED"},
		Actions: []Action{{
			Name: "clear", Label: "Mark cleared", Method: http.MethodPatch, Path: "/tickets/{id}",
			Fixed: map[string]any{"is_ticket_cleared": true}, Accept: []string{"resolution"},
			From: []string{"OPEN"}, Success: "Ticket cleared.", PerRow: true,
		}},
	}
}

func bankAccounts() Screen {
	accept := []string{"account_holder_name", "bank_name", "account_number", "ifsc_code", "branch"}
	return Screen{
		Name:     BankAccounts,
		Title:    "Bank Accounts",
		Resource: remote.Resource{Path: "/bank-accounts", Singular: "bankAccount", Plural: "bankAccounts"},
		Fields: report.Fields{
			Search:    []string{"account_holder_name", "bank_name", "account_number", "ifsc_code"},
			Status:    "status",
			Timestamp: "created_at",
		},
		Projection: export.Projection{Columns: []export.Column{
			col("account_holder_name", "Account Holder", export.Text),
			col("bank_name", "Bank", export.Text),
			col("account_number", "Account Number", export.Identifier),
			col("ifsc_code", "IFSC", export.Identifier),
			col("branch", "Branch", export.Text),
			col("created_at", "Added On", export.Date),
		}},
		ExportPrefix: "bank_accounts",
		Actions: []Action{
			{Name: "create", Label: "Add account", Method: http.MethodPost, Path: "/bank-accounts", Accept: accept, Validate: validateBankAccountCreate, Success: "Bank account added."},
			{Name: "update", Label: "Edit", Method: http.MethodPatch, Path: "/bank-accounts/{id}", Accept: accept, Validate: validateBankAccountUpdate, Success: "Bank account updated.", PerRow: true},
			{Name: "delete", Label: "Delete", Method: http.MethodDelete, Path: "/bank-accounts/{id}", Success: "Bank account deleted.", PerRow: true},
		},
	}
}

// members covers the three tiers of the distribution hierarchy.
func members(name, title, path, singular, plural, parentField string) Screen {
	search := []string{"id", "name", "business_name", "mobile", "email", "pan_number"}
	columns := []export.Column{
		col("id", "ID", export.Identifier),
		col("name", "Name", export.Text),
		col("business_name", "Business", export.Text),
		col("mobile", "Mobile", export.Identifier),
		col("email", "Email", export.Text),
	}
	if parentField != "" {
		search = append(search, parentField)
		columns = append(columns, col(parentField, "Parent ID", export.Identifier))
	}
	columns = append(columns,
		sum("wallet_balance", "Wallet Balance"),
		col("kyc_status", "KYC", export.Status),
		col("status", "Status", export.Status),
		col("created_at", "Joined", export.Date),
	)
	return Screen{
		Name:     name,
		Title:    title,
		Resource: remote.Resource{Path: path, Singular: singular, Plural: plural},
		Fields: report.Fields{
			Search:        search,
			Status:        "status",
			Timestamp:     "created_at",
			StatusAliases: approvalAliases,
		},
		Projection:   export.Projection{Columns: columns},
		ExportPrefix: strings.ReplaceAll(name, "-", "_"),
		Statuses:     []string{"ACTIVE", "INACTIVE"},
		Actions: []Action{
			{Name: "activate", Label: "Activate", Method: http.MethodPatch, Path: path + "/{id}/status", Fixed: map[string]any{"status": "ACTIVE"}, From: []string{"INACTIVE"}, Success: "Account activated.", PerRow: true},
			{Name: "deactivate", Label: "Deactivate", Method: http.MethodPatch, Path: path + "/{id}/status", Fixed: map[string]any{"status": "INACTIVE"}, From: []string{"ACTIVE"}, Success: "Account deactivated.", PerRow: true},
			{Name: "kyc-approve", Label: "Approve KYC", Method: http.MethodPatch, Path: path + "/{id}/kyc", Fixed: map[string]any{"kyc_status": "APPROVED"}, Accept: []string{"remark"}, Success: "KYC approved.", PerRow: true},
		},
	}
}

func apiCredentials() Screen {
	return Screen{
		Name:     APICredentials,
		Title:    "API Credentials",
		Resource: remote.Resource{Path: "/api-credentials", Singular: "apiCredential", Plural: "apiCredentials"},
		Fields: report.Fields{
			Search:    []string{"name", "client_id", "whitelisted_ip"},
			Status:    "status",
			Timestamp: "created_at",
		},
		Projection: export.Projection{Columns: []export.Column{
			col("name", "Name", export.Text),
			col("client_id", "Client ID", export.Identifier),
			col("whitelisted_ip", "Whitelisted IP", export.Identifier),
			col("status", "Status", export.Status),
			col("created_at", "Created", export.Date),
		}},
		ExportPrefix: "api_credentials",
		Statuses:     []string{"ACTIVE", "REVOKED"},
		Actions: []Action{
			{Name: "create", Label: "New credential", Method: http.MethodPost, Path: "/api-credentials", Accept: []string{"name", "whitelisted_ip", "callback_url", "callback_mobile"}, Validate: validateCredentialCreate, Success: "Credential created."},
			{Name: "regenerate", Label: "Regenerate secret", Method: http.MethodPost, Path: "/api-credentials/{id}/regenerate", From: []string{"ACTIVE"}, Success: "Secret regenerated.", PerRow: true},
			{Name: "revoke", Label: "Revoke", Method: http.MethodDelete, Path: "/api-credentials/{id}", From: []string{"ACTIVE"}, Success: "Credential revoked.", PerRow: true},
		},
	}
}
