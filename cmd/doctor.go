// This file implements the `repowiki doctor` diagnostic command.
//
// Doctor runs a sequence of preflight checks against the local configuration
// and the configured backend and reports actionable remediation guidance for
// any issues. It supports both human-readable (default) and machine-readable
// (--json) output.
package main

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/repowiki/console/internal/config"
	"github.com/repowiki/console/internal/journal"
	"github.com/repowiki/console/internal/protocol"
	"github.com/repowiki/console/internal/trust"
)

// DoctorResult is the top-level JSON output for `repowiki doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string `json:"version"`

	// Checks is the ordered list of diagnostic checks that were evaluated.
	Checks []DoctorCheck `json:"checks"`

	// Summary contains aggregate pass/warn/fail counts derived from Checks.
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check in the doctor output.
type DoctorCheck struct {
	// ID is a stable, machine-readable identifier for the check (e.g., "trust.pin").
	ID string `json:"id"`

	// Status is the check result: "pass", "warn", or "fail".
	Status string `json:"status"`

	// Message is a human-readable summary of what was found.
	Message string `json:"message"`

	// NextAction is a concrete remediation step the operator should take.
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs used by the doctor command.
// These are part of the public CLI contract and must not change.
const (
	checkIDConfig    = "config.file"
	checkIDEndpoint  = "backend.endpoint"
	checkIDTrustPin  = "trust.pin"
	checkIDReachable = "backend.reachability"
	checkIDJournal   = "journal.writable"
)

// Stable status values for doctor checks.
const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// Function-variable seams for testability.
// Tests override these to inject deterministic behavior without network or
// filesystem access.
var (
	// doctorProbeBackend dials the endpoint and performs one heartbeat
	// round trip. Returns nil when a pong came back within the timeout.
	doctorProbeBackend = defaultProbeBackend

	// doctorProbeJournal opens the journal and performs a throwaway write.
	doctorProbeJournal = defaultProbeJournal
)

// defaultProbeBackend dials the endpoint, sends an application-level ping,
// and waits for the matching pong. Frames other than pong are skipped; the
// whole round trip shares one deadline.
func defaultProbeBackend(endpoint string, timeout time.Duration, tlsCfg *tls.Config) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  tlsCfg,
	}
	conn, resp, err := dialer.Dial(endpoint, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return err
	}
	defer conn.Close()

	ping, err := protocol.Encode(protocol.NewPing())
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		return err
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		if msg.MessageType() == protocol.TypePong {
			return nil
		}
	}
}

// defaultProbeJournal opens the journal at path and performs a probe write
// that leaves no rows behind.
func defaultProbeJournal(path string) error {
	j, err := journal.Open(path, nil)
	if err != nil {
		return err
	}
	defer j.Close()
	return j.ProbeWrite()
}

// runDoctor implements the `repowiki doctor` CLI command.
// It evaluates preflight checks and reports results to stdout (human or JSON).
// Returns 0 when no checks fail, 1 when any check fails or an internal error
// occurs.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cf := registerClientFlags(fs)
	var jsonMode bool
	fs.BoolVar(&jsonMode, "json", false, "Emit machine-readable JSON to stdout")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: repowiki doctor [options]\n\nDiagnose configuration and backend connectivity.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Load without dying on errors: a broken config is a finding, not a
	// reason to skip the report.
	cfgPath, cfgExists := resolveConfigPath(cf.config)
	cfg, loadErr := config.Load(cf.config)
	if cfg == nil {
		cfg = config.Default()
	}
	if cf.endpoint != "" {
		cfg.Endpoint = cf.endpoint
	}
	if cf.timeout > 0 {
		cfg.ConnectTimeoutMs = int(cf.timeout / time.Millisecond)
	}
	var validateErr error
	if loadErr == nil {
		validateErr = cfg.Validate()
	}

	// Shared probing context: one backend round trip, reused by the
	// reachability check. Not attempted when the endpoint or pin cannot
	// possibly work.
	endpointErr := validateEndpoint(cfg.Endpoint)
	tlsCfg, pinErr := trust.ClientTLSConfig(cfg.TLSFingerprint)
	probed := false
	var probeErr error
	var probeElapsed time.Duration
	if endpointErr == nil && pinErr == nil {
		start := time.Now()
		probeErr = doctorProbeBackend(cfg.Endpoint, connectTimeout(cfg), tlsCfg)
		probeElapsed = time.Since(start)
		probed = true
	}

	// Evaluate checks in deterministic order.
	checks := make([]DoctorCheck, 0, 5)
	checks = append(checks, evalConfigFile(cfgPath, cfgExists, loadErr, validateErr))
	checks = append(checks, evalEndpoint(cfg.Endpoint, endpointErr))
	checks = append(checks, evalTrustPin(cfg.Endpoint, cfg.TLSFingerprint, pinErr))
	checks = append(checks, evalBackendReachability(cfg.Endpoint, probed, probeErr, probeElapsed))
	checks = append(checks, evalJournalWritable(cfg.JournalPath))

	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}

	result := DoctorResult{
		Version: "1",
		Checks:  checks,
		Summary: summary,
	}

	if jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result)
	}

	if summary.Fail > 0 {
		return 1
	}
	return 0
}

// resolveConfigPath reports which config file doctor is judging: the
// explicit flag path, or the default location. exists reports whether a
// file is actually there.
func resolveConfigPath(flagPath string) (string, bool) {
	if flagPath != "" {
		_, err := os.Stat(flagPath)
		return flagPath, err == nil
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", false
	}
	_, statErr := os.Stat(path)
	return path, statErr == nil
}

// validateEndpoint reports why an endpoint cannot be dialed, or nil.
func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("not a URL: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// evalConfigFile evaluates the config.file check.
// Decision table:
//   - config failed to load (missing explicit path, parse error) -> fail
//   - config loaded but a value is semantically invalid -> fail
//   - config file exists and is valid -> pass
//   - no config file; built-in defaults in effect -> warn
func evalConfigFile(path string, exists bool, loadErr, validateErr error) DoctorCheck {
	check := DoctorCheck{ID: checkIDConfig}

	if loadErr != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Configuration error: %v", loadErr)
		check.NextAction = fmt.Sprintf("Fix the config file at %s.", path)
		return check
	}
	if validateErr != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Configuration is invalid: %v", validateErr)
		check.NextAction = fmt.Sprintf("Edit %s and fix the reported value.", path)
		return check
	}
	if exists {
		check.Status = statusPass
		check.Message = fmt.Sprintf("Configuration loaded from %s.", path)
		check.NextAction = "No action required."
		return check
	}

	check.Status = statusWarn
	check.Message = "No config file found; using built-in defaults."
	check.NextAction = fmt.Sprintf("Run `repowiki config init` to create %s.", path)
	return check
}

// evalEndpoint evaluates the backend.endpoint check.
// Decision table:
//   - endpoint parses as ws:// or wss:// with a host -> pass
//   - anything else -> fail
func evalEndpoint(endpoint string, endpointErr error) DoctorCheck {
	check := DoctorCheck{ID: checkIDEndpoint}

	if endpointErr != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Endpoint %q is not usable: %v.", endpoint, endpointErr)
		check.NextAction = "Set a ws:// or wss:// endpoint in the config file or pass --endpoint."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Endpoint %s is well-formed.", endpoint)
	check.NextAction = "No action required."
	return check
}

// evalTrustPin evaluates the trust.pin check.
// Decision table:
//   - pin configured but not a valid SHA-256 fingerprint -> fail
//   - wss endpoint with a valid pin -> pass
//   - wss endpoint without a pin -> warn (CA verification applies)
//   - ws endpoint with a pin -> warn (pin has no effect on plaintext)
//   - ws endpoint without a pin -> pass
func evalTrustPin(endpoint, pin string, pinErr error) DoctorCheck {
	check := DoctorCheck{ID: checkIDTrustPin}

	if pinErr != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Certificate pin error: %v", pinErr)
		check.NextAction = "Copy the fingerprint from `repowiki discover` into tls_fingerprint."
		return check
	}

	secure := false
	if u, err := url.Parse(endpoint); err == nil {
		secure = u.Scheme == "wss"
	}

	switch {
	case secure && pin != "":
		check.Status = statusPass
		check.Message = "Certificate pin is configured for the wss endpoint."
		check.NextAction = "No action required."
	case secure:
		check.Status = statusWarn
		check.Message = "wss endpoint without a pinned fingerprint; standard CA verification applies."
		check.NextAction = "Pin the backend certificate via tls_fingerprint if it is self-signed."
	case pin != "":
		check.Status = statusWarn
		check.Message = "tls_fingerprint is set but the endpoint is plaintext ws://."
		check.NextAction = "Switch to a wss:// endpoint or remove tls_fingerprint."
	default:
		check.Status = statusPass
		check.Message = "Plaintext ws endpoint; no certificate pin needed."
		check.NextAction = "No action required."
	}
	return check
}

// evalBackendReachability evaluates the backend.reachability check.
// Decision table:
//   - probe not attempted (endpoint or pin invalid) -> fail
//   - dial + ping/pong round trip succeeded -> pass
//   - probe failed -> fail
func evalBackendReachability(endpoint string, probed bool, probeErr error, elapsed time.Duration) DoctorCheck {
	check := DoctorCheck{ID: checkIDReachable}

	if !probed {
		check.Status = statusFail
		check.Message = "Not attempted: the endpoint or certificate pin is invalid."
		check.NextAction = "Fix the failing checks above and re-run doctor."
		return check
	}
	if probeErr != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Backend at %s is not reachable: %v.", endpoint, probeErr)
		check.NextAction = "Start the backend, check the endpoint and firewall, or run `repowiki discover`."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Connected and heartbeat acknowledged in %s.", elapsed.Round(time.Millisecond))
	check.NextAction = "No action required."
	return check
}

// evalJournalWritable evaluates the journal.writable check.
// Decision table:
//   - no journal path configured -> warn (journaling disabled)
//   - journal opens and accepts a probe write -> pass
//   - open or write fails -> fail
func evalJournalWritable(path string) DoctorCheck {
	check := DoctorCheck{ID: checkIDJournal}

	if path == "" {
		check.Status = statusWarn
		check.Message = "Journaling is disabled (no journal_path configured)."
		check.NextAction = "Set journal_path in the config file to keep task and connection history."
		return check
	}

	if err := doctorProbeJournal(path); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Journal error: %v", err)
		check.NextAction = fmt.Sprintf("Fix journal_path or the permissions of %s.", path)
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("Journal is writable at %s.", path)
	check.NextAction = "No action required."
	return check
}

// renderDoctorJSON writes the doctor result as JSON to stdout.
// Only valid JSON is written to stdout; no extra lines.
func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// renderDoctorHuman writes the doctor result in human-readable format.
func renderDoctorHuman(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Repowiki Doctor")
	fmt.Fprintln(w, "===============")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(c.Status), c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

// statusIcon returns a text marker for the check status.
func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}
