package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/collapsinghierarchy/quorum/pkc/kem"
)

func readB64File(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
}

func keygenCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a salt escrow key pair (<out>.pub, <out>.key)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := kem.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out+".pub", []byte(base64.StdEncoding.EncodeToString(pub)+"\n"), 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(out+".key", []byte(base64.StdEncoding.EncodeToString(priv)+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s.pub and %s.key\n", out, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "escrow", "output path prefix")
	return cmd
}

func sealCommand() *cobra.Command {
	var (
		pubFile string
		id      uint64
		salt    string
	)
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Seal a verifier-set salt to the escrow public key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if salt == "" {
				return errors.New("--salt is required")
			}
			pub, err := readB64File(pubFile)
			if err != nil {
				return fmt.Errorf("read public key: %w", err)
			}
			env, err := kem.SealSalt(pub, id, []byte(salt))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(env))
			return nil
		},
	}
	cmd.Flags().StringVar(&pubFile, "pub", "escrow.pub", "escrow public key file")
	cmd.Flags().Uint64Var(&id, "id", 0, "submission id the salt belongs to")
	cmd.Flags().StringVar(&salt, "salt", "", "salt to seal")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func unsealCommand() *cobra.Command {
	var (
		keyFile  string
		id       uint64
		envelope string
	)
	cmd := &cobra.Command{
		Use:   "unseal",
		Short: "Recover a salt from its escrow envelope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := readB64File(keyFile)
			if err != nil {
				return fmt.Errorf("read private key: %w", err)
			}
			env, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envelope))
			if err != nil {
				return fmt.Errorf("decode envelope: %w", err)
			}
			salt, err := kem.OpenSalt(priv, id, env)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(salt))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "escrow.key", "escrow private key file")
	cmd.Flags().Uint64Var(&id, "id", 0, "submission id the salt belongs to")
	cmd.Flags().StringVar(&envelope, "envelope", "", "base64 envelope as returned by the assignment query")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("envelope")
	return cmd
}
