// Package verification runs the fixed sequence of checks that classifies a batch
// of freshly connected accounts.
package verification

// CheckID identifies an entry of the check catalog.
type CheckID string

const (
	CheckConnectivity        CheckID = "connectivity"
	CheckAuthentication      CheckID = "authentication"
	CheckAccountDetails      CheckID = "account_details"
	CheckBalanceVerification CheckID = "balance_verification"
	CheckTransactionAccess   CheckID = "transaction_access"
	CheckSecurityCompliance  CheckID = "security_compliance"
)

// CheckStatus is the state of a single check.
type CheckStatus string

const (
	StatusPending CheckStatus = "pending"
	StatusRunning CheckStatus = "running"
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusWarning CheckStatus = "warning"
)

// Terminal reports whether the check has finished.
func (s CheckStatus) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusWarning
}

// Outcome is the static text shown for a finished check.
type Outcome struct {
	Message string
	Details []string
}

// Definition describes a catalog entry and its text for every terminal status.
type Definition struct {
	ID          CheckID
	Name        string
	Description string
	Outcomes    map[CheckStatus]Outcome
}

var catalog = []Definition{
	{
		ID:          CheckConnectivity,
		Name:        "Connection",
		Description: "Reaching the institution",
		Outcomes: map[CheckStatus]Outcome{
			StatusPassed:  {Message: "Connected to the institution", Details: []string{"Secure channel established", "Response time within normal range"}},
			StatusWarning: {Message: "Connection is slower than usual", Details: []string{"Response time above normal range", "Syncs may take longer"}},
			StatusFailed:  {Message: "Could not reach the institution", Details: []string{"The institution did not respond", "Try again in a few minutes"}},
		},
	},
	{
		ID:          CheckAuthentication,
		Name:        "Authentication",
		Description: "Confirming access was granted",
		Outcomes: map[CheckStatus]Outcome{
			StatusPassed:  {Message: "Access confirmed", Details: []string{"Credentials accepted", "Read-only permissions granted"}},
			StatusWarning: {Message: "Access expires soon", Details: []string{"The institution asks for re-authorization within 30 days"}},
			StatusFailed:  {Message: "Access was not granted", Details: []string{"The institution rejected the credentials", "Reconnect to authorize again"}},
		},
	},
	{
		ID:          CheckAccountDetails,
		Name:        "Account details",
		Description: "Reading names, numbers and types",
		Outcomes: map[CheckStatus]Outcome{
			StatusPassed:  {Message: "Account details retrieved", Details: []string{"Names and account types match"}},
			StatusWarning: {Message: "Some details are incomplete", Details: []string{"One or more accounts have no display name", "You can rename them later"}},
			StatusFailed:  {Message: "Account details unavailable", Details: []string{"The institution returned no account information"}},
		},
	},
	{
		ID:          CheckBalanceVerification,
		Name:        "Balances",
		Description: "Checking current balances",
		Outcomes: map[CheckStatus]Outcome{
			StatusPassed:  {Message: "Balances verified", Details: []string{"Current and available balances retrieved"}},
			StatusWarning: {Message: "Balances may be delayed", Details: []string{"Pending transactions are not reflected yet"}},
			StatusFailed:  {Message: "Balances could not be verified", Details: []string{"Reported balances are inconsistent", "Reconnect or add the account manually"}},
		},
	},
	{
		ID:          CheckTransactionAccess,
		Name:        "Transactions",
		Description: "Loading recent transaction history",
		Outcomes: map[CheckStatus]Outcome{
			StatusPassed:  {Message: "Transaction history available", Details: []string{"Last 90 days of transactions accessible"}},
			StatusWarning: {Message: "Limited transaction history", Details: []string{"Only the last 30 days are available"}},
			StatusFailed:  {Message: "Transactions could not be loaded", Details: []string{"The institution denied access to transaction history"}},
		},
	},
	{
		ID:          CheckSecurityCompliance,
		Name:        "Security",
		Description: "Reviewing encryption and data handling",
		Outcomes: map[CheckStatus]Outcome{
			StatusPassed:  {Message: "Security checks passed", Details: []string{"Data encrypted in transit and at rest", "Tokens stored securely"}},
			StatusWarning: {Message: "Security review recommended", Details: []string{"The institution uses an older authentication standard"}},
			StatusFailed:  {Message: "Security requirements not met", Details: []string{"The connection did not meet encryption requirements"}},
		},
	},
}

// Catalog returns the checks in execution order.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}
