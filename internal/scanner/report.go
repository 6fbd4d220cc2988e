package scanner

import (
	"encoding/json"
	"fmt"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// trivyReport covers the part of `trivy image --format json` we consume.
type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID  string   `json:"VulnerabilityID"`
			PkgName          string   `json:"PkgName"`
			InstalledVersion string   `json:"InstalledVersion"`
			FixedVersion     string   `json:"FixedVersion"`
			Title            string   `json:"Title"`
			Severity         string   `json:"Severity"`
			PrimaryURL       string   `json:"PrimaryURL"`
			References       []string `json:"References"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

func parseTrivyReport(data []byte, p model.Project) ([]model.RawFinding, error) {
	var report trivyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trivy json: %w", err)
	}

	var findings []model.RawFinding
	for _, result := range report.Results {
		for _, v := range result.Vulnerabilities {
			sev, err := model.ParseSeverity(v.Severity)
			if err != nil {
				sev = model.SeverityUnknown
			}
			url := v.PrimaryURL
			if url == "" && len(v.References) > 0 {
				url = v.References[0]
			}
			title := v.Title
			if title == "" {
				title = v.VulnerabilityID
			}
			findings = append(findings, model.RawFinding{
				VulnerabilityID:  v.VulnerabilityID,
				Severity:         sev,
				Package:          v.PkgName,
				InstalledVersion: v.InstalledVersion,
				FixedVersion:     v.FixedVersion,
				Title:            title,
				URL:              url,
				Project:          p,
			})
		}
	}
	return findings, nil
}
