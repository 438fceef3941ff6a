/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package cvf

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/swarm1/engine/internal/errs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCheck_UnknownAUVFails(t *testing.T) {
	g := NewGate(t.TempDir(), ArtifactTable{}, nil)
	_, err := g.Check("AUV-9999", Options{})
	if !errors.Is(err, errs.ErrCvfArtifactMissing) {
		t.Fatalf("expected ErrCvfArtifactMissing, got %v", err)
	}
}

func TestCheck_RequiredArtifactMissing(t *testing.T) {
	root := t.TempDir()
	table := ArtifactTable{"AUV-0001": {{Path: "api/result.json"}}}
	g := NewGate(root, table, nil)

	res, err := g.Check("AUV-0001", Options{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Passed {
		t.Fatal("expected failure for missing artifact")
	}
}

func TestCheck_RequiredArtifactsPresent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "AUV-0001", "api", "result.json"), `{"ok":true}`)
	table := ArtifactTable{"AUV-0001": {{Path: "api/result.json"}}}
	g := NewGate(root, table, nil)

	res, err := g.Check("AUV-0001", Options{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res.Details)
	}
}

func TestCheck_LighthouseArtifactShape(t *testing.T) {
	root := t.TempDir()
	table := ArtifactTable{"AUV-0001": {{Path: "perf/lighthouse.json", IsLighthouse: true}}}
	g := NewGate(root, table, nil)

	writeFile(t, filepath.Join(root, "AUV-0001", "perf", "lighthouse.json"), `{"categories":{"performance":{"score":"not-a-number"}}}`)
	res, err := g.Check("AUV-0001", Options{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Passed {
		t.Fatal("expected failure for non-numeric score")
	}

	writeFile(t, filepath.Join(root, "AUV-0001", "perf", "lighthouse.json"), `{"categories":{"performance":{"score":0.92}}}`)
	res, err = g.Check("AUV-0001", Options{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res.Details)
	}
}

func TestCheck_StrictSecurityBlocks(t *testing.T) {
	root := t.TempDir()
	table := ArtifactTable{"AUV-0001": {}}
	g := NewGate(root, table, nil)
	writeFile(t, filepath.Join(root, "AUV-0001", "security", "summary.json"), `{"high":1,"critical":0,"leaked_secrets":0}`)

	res, err := g.Check("AUV-0001", Options{Strict: true})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Passed {
		t.Fatal("expected strict security failure to block")
	}
}

func TestCheck_StrictVisualDiffBlocks(t *testing.T) {
	root := t.TempDir()
	table := ArtifactTable{"AUV-0001": {}}
	g := NewGate(root, table, nil)
	writeFile(t, filepath.Join(root, "AUV-0001", "visual", "diff-summary.json"), `{"failed":2}`)

	res, err := g.Check("AUV-0001", Options{Strict: true})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Passed {
		t.Fatal("expected visual diff failure to block")
	}
	found := false
	for _, d := range res.Details {
		if d.ExitCode == 303 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected exit code 303 among details: %+v", res.Details)
	}
}

func TestCheck_PerfBudgetViolation(t *testing.T) {
	root := t.TempDir()
	table := ArtifactTable{"AUV-0001": {}}
	budgets := map[string]PerfBudget{"AUV-0001": {MinPerformanceScore: 0.9}}
	g := NewGate(root, table, budgets)
	writeFile(t, filepath.Join(root, "AUV-0001", "perf", "lighthouse.json"), `{"categories":{"performance":{"score":0.5}}}`)

	res, err := g.Check("AUV-0001", Options{Strict: true})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Passed {
		t.Fatal("expected perf budget violation to block")
	}
}

func TestValidateData_ChecksumMismatchFails(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	writeFile(t, filepath.Join(auvDir, "data", "insights.json"), `{"row_count":10,"metric_count":3,"checksum_manifest":"checksums.json","files":["rows.csv"]}`)
	writeFile(t, filepath.Join(auvDir, "data", "rows.csv"), "a,b,c\n1,2,3\n")
	writeFile(t, filepath.Join(auvDir, "data", "checksums.json"), `{"rows.csv":"deadbeef"}`)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	d := g.validateData(auvDir)
	if d.Passed {
		t.Fatal("expected checksum mismatch to fail")
	}
	if d.ExitCode != 305 {
		t.Errorf("exit code = %d, want 305", d.ExitCode)
	}
}

func TestValidateData_ChecksumMatchPasses(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	content := "a,b,c\n1,2,3\n"
	sum, _ := sha256File(writeAndReturnPath(t, filepath.Join(auvDir, "data", "rows.csv"), content))
	writeFile(t, filepath.Join(auvDir, "data", "insights.json"), `{"row_count":10,"metric_count":3,"checksum_manifest":"checksums.json","files":["rows.csv"]}`)
	writeFile(t, filepath.Join(auvDir, "data", "checksums.json"), `{"rows.csv":"`+sum+`"}`)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	d := g.validateData(auvDir)
	if !d.Passed {
		t.Fatalf("expected pass, got %+v", d)
	}
}

func writeAndReturnPath(t *testing.T, path, content string) string {
	t.Helper()
	writeFile(t, path, content)
	return path
}

func TestValidateCharts_TooSmallFails(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	writeSmallPNG(t, filepath.Join(auvDir, "charts", "a.png"), 8, 8)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	d := g.validateCharts(auvDir)
	if d.Passed {
		t.Fatal("expected small chart to fail")
	}
	if d.ExitCode != 306 {
		t.Errorf("exit code = %d, want 306", d.ExitCode)
	}
}

func TestValidateCharts_Passes(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	writeSmallPNG(t, filepath.Join(auvDir, "charts", "a.png"), 100, 50)
	writeSmallPNG(t, filepath.Join(auvDir, "charts", "b.png"), 200, 80)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	d := g.validateCharts(auvDir)
	if !d.Passed {
		t.Fatalf("expected pass, got %+v", d)
	}
}

func writeSmallPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}

func TestValidateSEO_BrokenLinksFail(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	writeFile(t, filepath.Join(auvDir, "reports", "seo", "audit.json"), `{"broken_links":3,"pages_audited":5,"canonical_present":5}`)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	d := g.validateSEO(auvDir)
	if d.Passed {
		t.Fatal("expected broken links to fail")
	}
	if d.ExitCode != 307 {
		t.Errorf("exit code = %d, want 307", d.ExitCode)
	}
}

func TestValidateMedia_MissingAudioFails(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	writeFile(t, filepath.Join(auvDir, "media", "compose-metadata.json"), `{"expected_duration_ms":1000,"actual_duration_ms":1005,"has_audio_track":false,"width_px":1280,"height_px":720}`)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	d := g.validateMedia(auvDir)
	if d.Passed {
		t.Fatal("expected missing audio track to fail")
	}
	if d.ExitCode != 308 {
		t.Errorf("exit code = %d, want 308", d.ExitCode)
	}
}

func TestValidateDB_FailedMigrationsFail(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	writeFile(t, filepath.Join(auvDir, "db", "migration-result.json"), `{"engine":"postgres","applied_count":3,"failed_count":1,"validation_query_pass_rate":1.0}`)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	d := g.validateDB(auvDir)
	if d.Passed {
		t.Fatal("expected failed migrations to fail")
	}
	if d.ExitCode != 309 {
		t.Errorf("exit code = %d, want 309", d.ExitCode)
	}
}

func TestAutoDetectDomains(t *testing.T) {
	root := t.TempDir()
	auvDir := filepath.Join(root, "AUV-0001")
	writeFile(t, filepath.Join(auvDir, "data", "insights.json"), `{}`)
	writeFile(t, filepath.Join(auvDir, "db", "migration-result.json"), `{}`)

	g := NewGate(root, ArtifactTable{"AUV-0001": {}}, nil)
	domains := g.autoDetectDomains(auvDir)

	want := map[Domain]bool{DomainData: true, DomainDB: true}
	if len(domains) != len(want) {
		t.Fatalf("domains = %v, want 2 entries", domains)
	}
	for _, d := range domains {
		if !want[d] {
			t.Errorf("unexpected domain %v", d)
		}
	}
}
