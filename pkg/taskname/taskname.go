package taskname

const (
	// Renewal tasks
	LicenseRenewalRun = "license:renewal:run"
)
