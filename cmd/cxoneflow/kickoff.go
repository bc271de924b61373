package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cxoneflow/cxoneflow-go/internal/crypto"
)

var kickoffCmd = &cobra.Command{
	Use:   "kickoff",
	Short: "Trigger an on-demand scan against a running cxoneflow server",
	RunE:  runKickoff,
}

func init() {
	rootCmd.AddCommand(kickoffCmd)
	kickoffCmd.Flags().String("url", "", "full URL of the route's kickoff endpoint, e.g. https://cxoneflow.example.com/gh/kickoff")
	kickoffCmd.Flags().String("private-key", "", "path to the PEM private key matching the route's configured kickoff public key")
	kickoffCmd.Flags().String("issuer", "cxoneflow-cli", "JWT issuer claim")
	kickoffCmd.Flags().String("project-id", "", "scanner project id")
	kickoffCmd.Flags().String("project-name", "", "scanner project name")
	kickoffCmd.Flags().String("clone-url", "", "clone URL to scan")
	kickoffCmd.Flags().String("branch", "", "branch to scan")
	kickoffCmd.Flags().String("commit", "", "commit hash to scan")
	_ = kickoffCmd.MarkFlagRequired("url")
	_ = kickoffCmd.MarkFlagRequired("private-key")
	_ = kickoffCmd.MarkFlagRequired("project-id")
	_ = kickoffCmd.MarkFlagRequired("branch")
	_ = kickoffCmd.MarkFlagRequired("commit")
}

type kickoffBody struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	CloneURL    string `json:"clone_url"`
	Branch      string `json:"branch"`
	CommitHash  string `json:"commit_hash"`
}

func runKickoff(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	keyPath, _ := cmd.Flags().GetString("private-key")
	issuer, _ := cmd.Flags().GetString("issuer")

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	privateKey, err := crypto.ParsePrivateKeyPEM(keyBytes)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}

	token, err := crypto.IssueKickoffJWT(privateKey, issuer)
	if err != nil {
		return fmt.Errorf("issue kickoff jwt: %w", err)
	}

	projectID, _ := cmd.Flags().GetString("project-id")
	projectName, _ := cmd.Flags().GetString("project-name")
	cloneURL, _ := cmd.Flags().GetString("clone-url")
	branch, _ := cmd.Flags().GetString("branch")
	commit, _ := cmd.Flags().GetString("commit")

	body, err := json.Marshal(kickoffBody{
		ProjectID:   projectID,
		ProjectName: projectName,
		CloneURL:    cloneURL,
		Branch:      branch,
		CommitHash:  commit,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("kickoff request failed: %w", err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Status, out.String())
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
