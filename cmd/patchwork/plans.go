package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"patchwork.dev/patch"
)

// plansDir holds saved rollback plans, relative to the workspace root.
const plansDir = ".patchwork/plans"

func (a *app) planPath(ref string) (string, error) {
	if strings.HasSuffix(ref, ".json") {
		return a.root.Resolve(ref)
	}
	if ref == "" || strings.ContainsAny(ref, `/\`) {
		return "", fmt.Errorf("invalid rollback plan id %q", ref)
	}
	return a.root.Resolve(filepath.Join(plansDir, ref+".json"))
}

func (a *app) savePlan(plan *patch.RollbackPlan) (string, error) {
	path, err := a.planPath(plan.ID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", err
	}
	// Plans hold prior file contents; keep them private.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("save rollback plan: %w", err)
	}
	return path, nil
}

func (a *app) loadPlan(ref string) (*patch.RollbackPlan, error) {
	path, err := a.planPath(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rollback plan: %w", err)
	}
	plan := new(patch.RollbackPlan)
	if err := json.Unmarshal(data, plan); err != nil {
		return nil, fmt.Errorf("load rollback plan %s: %w", path, err)
	}
	return plan, nil
}
