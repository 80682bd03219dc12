package catalog

import (
	"errors"
	"strings"
	"testing"
)

const sampleDoc = `# Kubetools

A curated list of Kubernetes tools.

## Cluster Management

| Sr No | Name | Description | Github Stars |
|-------|------|-------------|--------------|
| 1 | [Kops](https://github.com/kubernetes/kops) | Production grade K8s installation | 15000 |
| 2 | [Kubespray](https://github.com/kubernetes-sigs/kubespray) | Deploy a production ready cluster | 14200 |

## Monitoring

| Sr No | Name | Description | Github Stars |
|-------|------|-------------|--------------|
| 1 | [Prometheus](https://github.com/prometheus/prometheus) | Monitoring system and time series DB | 52000 |
`

func TestExtract(t *testing.T) {
	t.Run("parses entries with categories", func(t *testing.T) {
		res, err := Extract(sampleDoc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 3 {
			t.Fatalf("got %d entries, want 3", len(res.Entries))
		}

		first := res.Entries[0]
		if first.Key != "kops" {
			t.Errorf("Key = %q, want %q", first.Key, "kops")
		}
		if first.Name != "Kops" {
			t.Errorf("Name = %q, want %q", first.Name, "Kops")
		}
		if first.Category != "cluster management" {
			t.Errorf("Category = %q, want %q", first.Category, "cluster management")
		}
		if first.Stars != 15000 {
			t.Errorf("Stars = %d, want 15000", first.Stars)
		}
		if first.URL != "https://github.com/kubernetes/kops" {
			t.Errorf("URL = %q", first.URL)
		}
		if first.Description != "Production grade K8s installation" {
			t.Errorf("Description = %q", first.Description)
		}

		if res.Entries[2].Category != "monitoring" {
			t.Errorf("third entry category = %q, want monitoring", res.Entries[2].Category)
		}
	})

	t.Run("counts header and separator skips", func(t *testing.T) {
		res, err := Extract(sampleDoc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if res.Skipped[SkipSeparator] != 2 {
			t.Errorf("separator skips = %d, want 2", res.Skipped[SkipSeparator])
		}
		if res.Skipped[SkipHeader] != 2 {
			t.Errorf("header skips = %d, want 2", res.Skipped[SkipHeader])
		}
	})

	t.Run("tolerates reordered columns", func(t *testing.T) {
		doc := `## Security

| Github Stars | Description | Name |
|---|---|---|
| 4200 | Policy engine for K8s | [Kyverno](https://github.com/kyverno/kyverno) |
`
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(res.Entries))
		}
		e := res.Entries[0]
		if e.Key != "kyverno" || e.Stars != 4200 || e.Description != "Policy engine for K8s" {
			t.Errorf("entry = %+v", e)
		}
	})

	t.Run("trailing index column does not override stars", func(t *testing.T) {
		doc := `## Tools

|---|---|---|
| [Velero](https://github.com/vmware-tanzu/velero) Backup and restore | 8900 | 3 |
`
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(res.Entries))
		}
		if res.Entries[0].Stars != 8900 {
			t.Errorf("Stars = %d, want 8900", res.Entries[0].Stars)
		}
	})

	t.Run("leading index column is not mistaken for stars", func(t *testing.T) {
		doc := `## Tools

|---|---|
| 1 | [Solo](https://example.com/solo) no star column |
`
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if res.Entries[0].Stars != 0 {
			t.Errorf("Stars = %d, want 0", res.Entries[0].Stars)
		}
	})

	t.Run("tolerates extra whitespace", func(t *testing.T) {
		doc := `## Tools

|---|---|
|   1   |   [ Helm ](https://github.com/helm/helm)   extra text   |
`
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(res.Entries))
		}
		if res.Entries[0].Key != "helm" {
			t.Errorf("Key = %q, want helm", res.Entries[0].Key)
		}
	})

	t.Run("skips rows without a link", func(t *testing.T) {
		doc := `## Tools

|---|---|
| 1 | just some text |
| 2 | [Real](https://example.com/real) tool |
`
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(res.Entries))
		}
		if res.Skipped[SkipNoLink] != 1 {
			t.Errorf("no-link skips = %d, want 1", res.Skipped[SkipNoLink])
		}
	})

	t.Run("drops duplicate keys keeping the first", func(t *testing.T) {
		doc := `## Tools

|---|---|
| 1 | [Helm](https://example.com/one) first |
| 2 | [Helm](https://example.com/two) second |
`
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(res.Entries))
		}
		if res.Entries[0].URL != "https://example.com/one" {
			t.Errorf("kept URL = %q, want the first occurrence", res.Entries[0].URL)
		}
		if res.Skipped[SkipDuplicate] != 1 {
			t.Errorf("duplicate skips = %d, want 1", res.Skipped[SkipDuplicate])
		}
	})

	t.Run("unrecognizable document fails", func(t *testing.T) {
		_, err := Extract("no tables here at all\njust prose\n")
		if !errors.Is(err, ErrDocumentUnrecognized) {
			t.Fatalf("err = %v, want ErrDocumentUnrecognized", err)
		}
	})

	t.Run("empty tables with structure are not fatal", func(t *testing.T) {
		doc := "## Tools\n\n| Name | Stars |\n|---|---|\n"
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 0 {
			t.Errorf("got %d entries, want 0", len(res.Entries))
		}
	})

	t.Run("very long lines are handled", func(t *testing.T) {
		doc := "## Tools\n\n|---|---|\n| 1 | [Big](https://example.com/big) " + strings.Repeat("x", 100_000) + " |\n"
		res, err := Extract(doc)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(res.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(res.Entries))
		}
	})
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Helm", "helm"},
		{"spaces", "Kube Bench", "kube-bench"},
		{"punctuation", "K9s - CLI!", "k9s-cli"},
		{"leading symbols", "  ⭐ Argo CD ", "argo-cd"},
		{"numbers", "H2O v3", "h2o-v3"},
		{"empty", "★★", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slug(tt.in); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
