package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"openlend/crypto"
)

// openlend-keygen creates an account key, writes it to an encrypted keystore
// file and prints the bech32 address, or recovers the address from an
// existing keystore.
func main() {
	var (
		out     string
		show    string
		modName string
	)
	flag.StringVar(&out, "out", "", "write a new encrypted key to this path")
	flag.StringVar(&show, "show", "", "print the address stored in this keystore file")
	flag.StringVar(&modName, "module", "", "print the vault address for a module name and exit")
	flag.Parse()

	if modName != "" {
		fmt.Println(crypto.ModuleAddress(modName).String())
		return
	}

	switch {
	case out != "":
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			log.Fatalf("generate key: %v", err)
		}
		passphrase := readPassphrase("Passphrase for new keystore: ")
		if err := crypto.SaveToKeystore(out, key, passphrase); err != nil {
			log.Fatalf("save keystore: %v", err)
		}
		fmt.Println(key.PubKey().Address().String())
	case show != "":
		passphrase := readPassphrase("Keystore passphrase: ")
		key, err := crypto.LoadFromKeystore(show, passphrase)
		if err != nil {
			log.Fatalf("load keystore: %v", err)
		}
		fmt.Println(key.PubKey().Address().String())
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func readPassphrase(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("read passphrase: %v", err)
	}
	return strings.TrimSpace(string(raw))
}
