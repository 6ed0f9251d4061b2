package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nammalwarsai/skill3-cie/internal/config"
	"github.com/nammalwarsai/skill3-cie/internal/gateway"
)

func createDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-doctor",
		Short: "Provision a doctor account",
		Long: "Provision a doctor account. The password is read from the first line of stdin " +
			"so it never appears in the process list or shell history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			doctorID, _ := cmd.Flags().GetString("doctor-id")
			if username == "" || doctorID == "" {
				return fmt.Errorf("--username and --doctor-id are required")
			}
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.RecordBackend == config.BackendMemory {
				return fmt.Errorf("create-doctor needs a persistent RECORD_BACKEND, got %q", cfg.RecordBackend)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			st, err := openStores(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			prof, err := newGateway(cfg, st, log).CreateDoctor(ctx, gateway.DoctorInput{
				Username: username,
				Password: password,
				DoctorID: doctorID,
				Email:    email,
				Name:     name,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "doctor %s created\n", prof.Username)
			return nil
		},
	}
	cmd.Flags().String("username", "", "doctor login name")
	cmd.Flags().String("doctor-id", "", "staff identifier checked at login")
	cmd.Flags().String("email", "", "contact email")
	cmd.Flags().String("name", "", "display name")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && f == os.Stdin {
		fmt.Fprint(cmd.ErrOrStderr(), "password: ")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return pw, nil
}
