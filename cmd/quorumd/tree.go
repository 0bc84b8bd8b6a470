package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/pkc/merkle"
)

type memberProof struct {
	Index    int           `json:"index"`
	Verifier model.Address `json:"verifier"`
	Proof    []model.Hash  `json:"proof"`
}

type treeOutput struct {
	Root    model.Hash    `json:"merkleRoot"`
	Members []memberProof `json:"members"`
}

// buildAssignment computes the root to commit and the proof each verifier
// submits with their vote.
func buildAssignment(salt string, verifiers []string) (*treeOutput, error) {
	if salt == "" {
		return nil, errors.New("salt must not be empty")
	}
	if len(verifiers) != model.VerifierCount {
		return nil, fmt.Errorf("need exactly %d verifiers, got %d", model.VerifierCount, len(verifiers))
	}
	addrs := make([]model.Address, len(verifiers))
	members := make([][]byte, len(verifiers))
	seen := make(map[model.Address]bool, len(verifiers))
	for i, v := range verifiers {
		a, err := model.ParseAddress(v)
		if err != nil {
			return nil, fmt.Errorf("verifier %d: %w", i, err)
		}
		if seen[a] {
			return nil, fmt.Errorf("verifier %s listed twice", a)
		}
		seen[a] = true
		addrs[i] = a
		members[i] = addrs[i][:]
	}
	tree, err := merkle.FromMembers(merkle.Keccak{}, model.ProofLength, members, []byte(salt))
	if err != nil {
		return nil, err
	}
	out := &treeOutput{Root: model.Hash(tree.Root())}
	for i, a := range addrs {
		p, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		mp := memberProof{Index: i, Verifier: a, Proof: make([]model.Hash, len(p))}
		for j := range p {
			mp.Proof[j] = model.Hash(p[j])
		}
		out.Members = append(out.Members, mp)
	}
	return out, nil
}

func treeCommand() *cobra.Command {
	var salt string
	cmd := &cobra.Command{
		Use:   "tree --salt SALT ADDRESS...",
		Short: "Compute the Merkle root and per-verifier proofs for an assignment",
		Args:  cobra.ExactArgs(model.VerifierCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := buildAssignment(salt, args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&salt, "salt", "", "secret salt")
	return cmd
}
