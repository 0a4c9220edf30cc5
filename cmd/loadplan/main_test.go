package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"loadplanner/internal/config"
	"loadplanner/internal/opt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleCSV = "SO,Line,Customer,shipping_city,shipping_state,Ready Weight,RPcs,Grd,Size,Width,Earliest Due,Latest Due\n" +
	"SO1,1,Acme,Tulsa,OK,10000,1,A36,0.25,96,,\n" +
	"SO2,1,Bolt,Tulsa,OK,12000,1,A36,0.25,96,,\n" +
	"SO3,1,Bolt,Tulsa,OK,,4,A36,0.25,96,,\n"

// setup resets the package-level flag state that cobra would normally fill.
func setup(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.Default()
	planToday, planWeights, outFormat, outPath = "2025-01-10", "", "json", "-"
	combineSelect = nil
	previewRows = 5

	dir := t.TempDir()
	planIn = filepath.Join(dir, "open.csv")
	require.NoError(t, os.WriteFile(planIn, []byte(sampleCSV), 0o600))
	return dir
}

func capture() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	return cmd, &buf
}

func fragmentRef(t *testing.T, p opt.Plan, id string) string {
	t.Helper()
	for _, f := range p.Fragments() {
		if f.ID == id {
			return strconv.Itoa(f.TruckNumber) + ":" + f.ID
		}
	}
	t.Fatalf("fragment %s not in plan", id)
	return ""
}

func TestRunPlanJSON(t *testing.T) {
	setup(t)
	cmd, out := capture()
	require.NoError(t, runPlan(cmd, nil))

	var p opt.Plan
	require.NoError(t, json.Unmarshal(out.Bytes(), &p))
	assert.Len(t, p.Trucks, 2)
	require.Len(t, p.Skipped, 1)
	assert.Equal(t, "SO3", p.Skipped[0].SalesOrder)
	assert.Equal(t, opt.SkipNoWeight, p.Skipped[0].Reason)
	assert.Equal(t, []int{1, 2}, p.BelowMinimum())
}

func TestRunPlanDeterministic(t *testing.T) {
	setup(t)
	cmd, first := capture()
	require.NoError(t, runPlan(cmd, nil))
	cmd, second := capture()
	require.NoError(t, runPlan(cmd, nil))
	if diff := cmp.Diff(first.String(), second.String()); diff != "" {
		t.Errorf("plan output changed between runs (-first +second):\n%s", diff)
	}
}

func TestRunCombineFromYAMLPlan(t *testing.T) {
	dir := setup(t)
	outFormat = "yaml"
	outPath = filepath.Join(dir, "plan.yaml")
	require.NoError(t, runPlan(&cobra.Command{}, nil))

	var p opt.Plan
	require.NoError(t, readDocument(outPath, &p))
	require.Len(t, p.Trucks, 2)

	combinePlan = outPath
	combineSelect = []string{fragmentRef(t, p, "SO1-1"), fragmentRef(t, p, "SO2-1")}
	outFormat, outPath = "json", "-"
	cmd, out := capture()
	require.NoError(t, runCombine(cmd, nil))

	var got combineOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Len(t, got.Result.Target.Fragments, 2)
	assert.InDelta(t, 22000, got.Result.Target.Weight, 1e-9)
	assert.ElementsMatch(t, []int{1, 2}, got.Result.Removed)
	require.Len(t, got.Plan.Trucks, 1)
	assert.Equal(t, got.Result.Target.Number, got.Plan.Trucks[0].Number)
}

func TestRunCombineRejected(t *testing.T) {
	dir := setup(t)
	outPath = filepath.Join(dir, "plan.json")
	require.NoError(t, runPlan(&cobra.Command{}, nil))
	var p opt.Plan
	require.NoError(t, readDocument(outPath, &p))

	combinePlan = outPath
	combineSelect = []string{fragmentRef(t, p, "SO1-1")}
	outPath = "-"
	err := runCombine(&cobra.Command{}, nil)
	require.ErrorIs(t, err, opt.ErrInsufficientSelection)
}

func TestRunCombineUsesCurrentWeights(t *testing.T) {
	dir := setup(t)
	outPath = filepath.Join(dir, "plan.json")
	require.NoError(t, runPlan(&cobra.Command{}, nil))
	var p opt.Plan
	require.NoError(t, readDocument(outPath, &p))

	planWeights = filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(planWeights, []byte("other:\n  min: 15000\n  max: 20000\n"), 0o600))
	combinePlan = outPath
	combineSelect = []string{fragmentRef(t, p, "SO1-1"), fragmentRef(t, p, "SO2-1")}
	outPath = "-"
	err := runCombine(&cobra.Command{}, nil)
	require.ErrorIs(t, err, opt.ErrOverCapacity)
}

func TestParseSelection(t *testing.T) {
	refs, err := parseSelection([]string{"3:SO1-10", " 4 : SO:2-1 "})
	require.NoError(t, err)
	assert.Equal(t, []opt.FragmentRef{
		{TruckNumber: 3, FragmentID: "SO1-10"},
		{TruckNumber: 4, FragmentID: "SO:2-1"},
	}, refs)

	for _, bad := range [][]string{nil, {"SO1-10"}, {"x:SO1-10"}, {"3:"}} {
		_, err := parseSelection(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestRunPreview(t *testing.T) {
	setup(t)
	previewRows = 1
	cmd, out := capture()
	require.NoError(t, runPreview(cmd, nil))

	s := out.String()
	assert.Contains(t, s, "Rows:    3")
	assert.Contains(t, s, "Missing: none")
	assert.Contains(t, s, "SO=SO1")
	assert.NotContains(t, s, "SO=SO2")
}

func TestLoadWeights(t *testing.T) {
	def := opt.DefaultWeightConfig()
	w, err := loadWeights("", def)
	require.NoError(t, err)
	assert.Equal(t, def, w)

	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("other:\n  min: 30000\n  max: 40000\n"), 0o600))
	w, err = loadWeights(path, def)
	require.NoError(t, err)
	assert.Equal(t, opt.Bounds{Min: 30000, Max: 40000}, w.Other)
	assert.Equal(t, def.HighVolume, w.HighVolume)

	require.NoError(t, os.WriteFile(path, []byte("other:\n  min: 40000\n  max: 30000\n"), 0o600))
	_, err = loadWeights(path, def)
	require.ErrorIs(t, err, opt.ErrInvalidWeightConfig)
}

func TestWriteOutputUnknownFormat(t *testing.T) {
	setup(t)
	outFormat = "xml"
	require.Error(t, writeOutput(&cobra.Command{}, map[string]int{"a": 1}))
}
