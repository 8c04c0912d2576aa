package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"edgepolicy/internal/envelope"
)

const defaultKeyLabel = "MASTER_KEY"

func newKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a pre-shared master key file",
		Long: `Generate a random 32-byte master key and write it as LABEL=<hex>.
Copy the same file to the controller and every edge node.`,
		Args: cobra.NoArgs,
		RunE: runKeygen,
	}
	cmd.Flags().StringP("out", "o", "key.conf", "Key file to write")
	cmd.Flags().String("label", defaultKeyLabel, "Label written before the key")
	cmd.Flags().Bool("force", false, "Overwrite an existing key file")
	return cmd
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("out")
	label, _ := cmd.Flags().GetString("label")
	force, _ := cmd.Flags().GetBool("force")

	master := make([]byte, envelope.MasterKeySize)
	if _, err := rand.Read(master); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := writeKeyFile(path, label, master, force); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d-byte master key to %s\n", len(master), path)
	return nil
}

func writeKeyFile(path, label string, master []byte, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(envelope.FormatKeyLine(label, master)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("chmod key file: %w", err)
	}
	return f.Close()
}
