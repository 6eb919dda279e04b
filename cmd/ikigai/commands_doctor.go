package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mgreenly/ikigai-sub009/internal/config"
)

// buildDoctorCmd creates "doctor": a self-check of the things spec.md §6
// says a process needs before it can serve — a writable runtime dir for
// the control socket, and connectivity to the configured event-store
// backend — grounded on the teacher's buildDoctorCmd/runDoctor split
// (cmd/nexus/commands_doctor.go, internal/doctor).
func buildDoctorCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check runtime-directory and event-store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(*configPath)
		},
	}
	return cmd
}

func runDoctor(configPath string) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return fatalConfig(err)
	}

	ok := true

	if cfg.RuntimeDir == "" {
		fmt.Println("[warn] runtime_dir / IKIGAI_RUNTIME_DIR unset: control socket disabled")
	} else if err := checkWritable(cfg.RuntimeDir); err != nil {
		fmt.Printf("[fail] runtime_dir %s: %v\n", cfg.RuntimeDir, err)
		ok = false
	} else {
		fmt.Printf("[ ok ] runtime_dir %s is writable\n", cfg.RuntimeDir)
	}

	es, err := openStore(cfg)
	if err != nil {
		fmt.Printf("[fail] database backend %s: %v\n", cfg.Database.Backend, err)
		ok = false
	} else {
		fmt.Printf("[ ok ] database backend %s is reachable\n", cfg.Database.Backend)
		_ = es.Close()
	}

	if !ok {
		return fmt.Errorf("doctor: one or more checks failed")
	}
	fmt.Println("all checks passed")
	return nil
}

// checkWritable verifies dir exists (creating it if necessary) and that a
// file can be created inside it, mirroring the teacher's audit-style
// probes in internal/doctor.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".ikigai-doctor-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}
