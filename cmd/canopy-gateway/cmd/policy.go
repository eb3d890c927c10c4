package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canopyiq/canopy-gateway/internal/domain/bundle"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage policy bundle signing keys and signatures",
}

var genKeyOut string

var policyGenKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Generate an Ed25519 signing keypair",
	Long: `Generate a fresh Ed25519 keypair. The public half goes to stdout
(and is what policy.pubkey_b64 expects); the private half is written to
the --out file with owner-only permissions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := bundle.GenerateKeypair()
		if err != nil {
			return err
		}
		if err := os.WriteFile(genKeyOut, []byte(priv+"\n"), 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		fmt.Printf("public key:  %s\n", pub)
		fmt.Printf("private key: written to %s\n", genKeyOut)
		return nil
	},
}

var signKeyFile string

var policySignCmd = &cobra.Command{
	Use:   "sign <bundle.yaml>",
	Short: "Sign a policy bundle",
	Long: `Sign the bundle with the private key from --key and write the
signature envelope next to it as <bundle.yaml>.sig.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyData, err := os.ReadFile(signKeyFile)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		priv := string(trimNewline(keyData))

		payloadPath := args[0]
		sigPath := payloadPath + ".sig"
		if err := bundle.SignFile(payloadPath, sigPath, priv); err != nil {
			return err
		}
		fmt.Printf("signed %s -> %s\n", payloadPath, sigPath)
		return nil
	},
}

var verifyPubkey string

var policyVerifyCmd = &cobra.Command{
	Use:   "verify <bundle.yaml>",
	Short: "Verify a policy bundle signature",
	Long: `Verify <bundle.yaml> against its <bundle.yaml>.sig envelope using
the base64 Ed25519 public key given with --pubkey.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payloadPath := args[0]
		if err := bundle.Verify(payloadPath, payloadPath+".sig", verifyPubkey); err != nil {
			return err
		}
		fmt.Printf("ok: %s verified against key %s\n", payloadPath, fingerprintOf(verifyPubkey))
		return nil
	},
}

func fingerprintOf(publicKeyB64 string) string {
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return "(invalid key)"
	}
	return bundle.Fingerprint(pub)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func init() {
	policyGenKeyCmd.Flags().StringVar(&genKeyOut, "out", "canopy-signing.key", "file to write the private key to")

	policySignCmd.Flags().StringVar(&signKeyFile, "key", "", "file holding the base64 private key")
	_ = policySignCmd.MarkFlagRequired("key")

	policyVerifyCmd.Flags().StringVar(&verifyPubkey, "pubkey", "", "base64 Ed25519 public key")
	_ = policyVerifyCmd.MarkFlagRequired("pubkey")

	policyCmd.AddCommand(policyGenKeyCmd, policySignCmd, policyVerifyCmd)
	rootCmd.AddCommand(policyCmd)
}
