package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/monosim/internal/assay"
	"github.com/nvandessel/monosim/internal/constants"
)

// isolateHome points HOME at a temp directory so no test touches the real
// ~/.monosim. It must be called by any test that loads config or opens
// storage.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, k := range []string{
		"MONOSIM_SEED", "MONOSIM_TARGET_SIZE", "MONOSIM_REPLICATES",
		"MONOSIM_ARCHIVE_DRIVER", "MONOSIM_ARCHIVE_DSN", "MONOSIM_BLOB_DRIVER",
		"MONOSIM_S3_BUCKET", "MONOSIM_S3_ENDPOINT", "MONOSIM_LOG_LEVEL", "MONOSIM_METRICS_TEXTFILE",
	} {
		t.Setenv(k, "")
	}
	return home
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

type simulateOutput struct {
	RunID     string         `json:"run_id"`
	Seed      uint64         `json:"seed"`
	Snapshots []string       `json:"snapshots"`
	Archived  bool           `json:"archived"`
	Fits      []assay.Result `json:"fits"`
}

func simulate(t *testing.T, extra ...string) simulateOutput {
	t.Helper()
	args := append([]string{"simulate", "--replicates", "3", "--target", "128", "--seed", "5", "--json"}, extra...)
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("simulate error = %v", err)
	}
	var got simulateOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("simulate output is not JSON: %v\n%s", err, out)
	}
	return got
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatal(err)
	}
	if v["version"] != version {
		t.Errorf("version = %q, want %q", v["version"], version)
	}

	out, err = runCLI(t, "version")
	if err != nil || !strings.HasPrefix(out, "monosim version ") {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestSimulate_ArchivesAndSnapshots(t *testing.T) {
	home := isolateHome(t)
	textfile := filepath.Join(t.TempDir(), "monosim.prom")
	t.Setenv("MONOSIM_METRICS_TEXTFILE", textfile)

	got := simulate(t, "--fit")
	if got.RunID == "" || got.Seed != 5 || !got.Archived {
		t.Fatalf("simulate output = %+v", got)
	}
	if len(got.Snapshots) != 3 {
		t.Errorf("snapshots = %v, want 3", got.Snapshots)
	}
	if len(got.Fits) != 4 {
		t.Errorf("fits = %d, want 4 (2 mutant classes x 2 models)", len(got.Fits))
	}

	snap := filepath.Join(home, constants.DataDirName, constants.SnapshotDirName, got.RunID, "replicate-0002.snap.gz")
	if _, err := os.Stat(snap); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, constants.DataDirName, constants.ArchiveFileName)); err != nil {
		t.Errorf("archive not created: %v", err)
	}
	data, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(data), "monosim_fits_total") {
		t.Errorf("textfile lacks fit counter:\n%s", data)
	}
}

func TestSimulate_TableOutput(t *testing.T) {
	isolateHome(t)
	out, err := runCLI(t, "simulate", "--replicates", "2", "--target", "64", "--seed", "11", "--no-archive", "--no-snapshots")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "replicate") || !strings.Contains(out, "n_total") {
		t.Errorf("missing table header:\n%s", out)
	}
	if strings.Contains(out, "snapshots written") {
		t.Errorf("no snapshots should be reported:\n%s", out)
	}
}

func TestSimulate_InvalidFlags(t *testing.T) {
	isolateHome(t)
	tests := [][]string{
		{"simulate", "--replicates", "0", "--no-archive", "--no-snapshots"},
		{"simulate", "--founder", "tetraploid", "--no-archive", "--no-snapshots"},
		{"simulate", "--monosome-rate", "1.5", "--no-archive", "--no-snapshots"},
		{"simulate", "--log-level", "verbose", "--no-archive", "--no-snapshots"},
	}
	for _, args := range tests {
		if _, err := runCLI(t, args...); err == nil {
			t.Errorf("%v should fail", args)
		}
	}
}

func TestFitAndRuns(t *testing.T) {
	isolateHome(t)
	run := simulate(t)

	out, err := runCLI(t, "fit", run.RunID, "--mutant", "monosome", "--model", "LD", "--json")
	if err != nil {
		t.Fatalf("fit error = %v", err)
	}
	var fit struct {
		Replicates int            `json:"replicates"`
		Results    []assay.Result `json:"results"`
		Saved      bool           `json:"saved"`
	}
	if err := json.Unmarshal([]byte(out), &fit); err != nil {
		t.Fatal(err)
	}
	if fit.Replicates != 3 || len(fit.Results) != 1 || !fit.Saved {
		t.Errorf("fit output = %+v", fit)
	}
	if r := fit.Results[0]; r.Mutant != assay.ClassMonosome || r.Model != assay.ModelLD || r.W != 1 {
		t.Errorf("fit result = %+v", r)
	}

	out, err = runCLI(t, "fit", run.RunID, "--snapshots", "--no-save", "--model", "MK", "--fitness-weight", "0.5", "--json")
	if err != nil {
		t.Fatalf("fit --snapshots error = %v", err)
	}
	fit.Results = nil
	if err := json.Unmarshal([]byte(out), &fit); err != nil {
		t.Fatal(err)
	}
	if fit.Saved || len(fit.Results) != 2 || fit.Results[0].W != 0.5 {
		t.Errorf("fit --snapshots output = %+v", fit)
	}

	out, err = runCLI(t, "runs", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var runs struct {
		Count int `json:"count"`
		Runs  []struct {
			RunID string `json:"run_id"`
			Fits  int    `json:"fits"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatal(err)
	}
	if runs.Count != 1 || runs.Runs[0].RunID != run.RunID || runs.Runs[0].Fits != 1 {
		t.Errorf("runs = %+v", runs)
	}

	out, err = runCLI(t, "runs", "show", run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, run.RunID) || !strings.Contains(out, "monosome") {
		t.Errorf("runs show output:\n%s", out)
	}

	if _, err := runCLI(t, "fit", "no-such-run"); err == nil {
		t.Error("fit of an unknown run should fail")
	}
}

func TestRuns_Empty(t *testing.T) {
	isolateHome(t)
	out, err := runCLI(t, "runs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No runs archived yet") {
		t.Errorf("runs output = %q", out)
	}
}

func TestSnapshotCmds(t *testing.T) {
	home := isolateHome(t)
	run := simulate(t, "--no-archive")
	path := filepath.Join(home, constants.DataDirName, constants.SnapshotDirName, run.RunID, "replicate-0001.snap.gz")

	out, err := runCLI(t, "snapshot", "verify", path)
	if err != nil || !strings.Contains(out, "OK: checksum verified") {
		t.Errorf("verify = %q, %v", out, err)
	}

	out, err = runCLI(t, "snapshot", "show", path)
	if err != nil || !strings.Contains(out, "Replicate:   1") {
		t.Errorf("show = %q, %v", out, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-3] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "snapshot", "verify", path); err == nil {
		t.Error("verify of a tampered snapshot should fail")
	}
}

func TestNgenCmd(t *testing.T) {
	out, err := runCLI(t, "ngen", "--rate", "1e-3", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Generations int  `json:"generations"`
		TargetSize  int  `json:"target_size"`
		Capped      bool `json:"capped"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.Generations != 15 || got.TargetSize != 1<<15 || got.Capped {
		t.Errorf("ngen = %+v, want 15 generations", got)
	}

	if _, err := runCLI(t, "ngen", "--rate", "0"); err == nil {
		t.Error("rate 0 should fail")
	}
	if _, err := runCLI(t, "ngen"); err == nil {
		t.Error("missing --rate should fail")
	}
}

func TestConfigCmds(t *testing.T) {
	home := isolateHome(t)

	if _, err := runCLI(t, "config", "set", "simulation.replicates", "9"); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if _, err := runCLI(t, "config", "set", "assay.models", "LD, MK"); err != nil {
		t.Fatalf("config set list error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, constants.DataDirName, constants.ConfigFileName)); err != nil {
		t.Errorf("config file not written: %v", err)
	}

	out, err := runCLI(t, "config", "get", "simulation.replicates")
	if err != nil || strings.TrimSpace(out) != "simulation.replicates = 9" {
		t.Errorf("config get = %q, %v", out, err)
	}
	out, err = runCLI(t, "config", "get", "assay.models")
	if err != nil || strings.TrimSpace(out) != "assay.models = LD,MK" {
		t.Errorf("config get list = %q, %v", out, err)
	}

	for _, args := range [][]string{
		{"config", "set", "simulation.replicates", "many"},
		{"config", "set", "model.monosome_fitness", "2"},
		{"config", "set", "no.such.key", "1"},
	} {
		if _, err := runCLI(t, args...); err == nil {
			t.Errorf("%v should fail", args)
		}
	}
	if _, err := runCLI(t, "config", "get", "no.such.key"); err == nil {
		t.Error("unknown key should fail")
	}

	if _, err := runCLI(t, "config", "set", "storage.archive.dsn", "postgres://u:pw@db/runs"); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "config", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "pw@") || !strings.Contains(out, "u:***@db") {
		t.Errorf("config list should redact the dsn:\n%s", out)
	}
}

func TestConfigFlag(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "alt.yaml")

	if _, err := runCLI(t, "config", "set", "simulation.target_size", "512", "--config", path); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "config", "get", "simulation.target_size", "--config", path)
	if err != nil || strings.TrimSpace(out) != "simulation.target_size = 512" {
		t.Errorf("config get --config = %q, %v", out, err)
	}
	out, err = runCLI(t, "config", "get", "simulation.target_size")
	if err != nil || strings.TrimSpace(out) == "simulation.target_size = 512" {
		t.Errorf("default config should be untouched: %q, %v", out, err)
	}
}
