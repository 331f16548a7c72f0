package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/apetrenko/keyfort/internal/cryptox"
	"github.com/apetrenko/keyfort/internal/recipe"
	"github.com/apetrenko/keyfort/internal/server"
	"github.com/apetrenko/keyfort/internal/server/config"
	"github.com/apetrenko/keyfort/internal/storage"
	"github.com/apetrenko/keyfort/internal/vault"
)

const usage = `usage: keyfort <command> [flags]

commands:
  install   create the database schema and the admin account
  serve     run the server
  genpass   generate a password from a recipe, e.g. keyfort genpass 8an
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "install":
		err = install()
	case "serve":
		err = serve()
	case "genpass":
		err = genpass(strings.Join(os.Args[2:], " "))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg)
	if err != nil {
		return err
	}
	return app.Run(context.Background())
}

func install() error {
	cfg := config.LoadConfig()

	username, password, err := promptAdminCredentials()
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Driver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}

	v := vault.New(server.NewLogger(cfg), store)
	defer v.Close()

	ctx := context.Background()
	if err := v.Install(ctx, username, password); err != nil {
		return err
	}
	return v.SetStretchThreshold(ctx, cfg.StretchThreshold)
}

func promptAdminCredentials() (string, string, error) {
	fmt.Print("admin username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	username = strings.TrimSpace(username)

	fmt.Print("admin password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", err
	}
	defer cryptox.Wipe(password)

	fmt.Print("confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", err
	}
	defer cryptox.Wipe(confirm)

	if !bytes.Equal(password, confirm) {
		return "", "", fmt.Errorf("passwords do not match")
	}

	return username, string(password), nil
}

func genpass(src string) error {
	r, err := recipe.Parse(src)
	if err != nil {
		return err
	}
	fmt.Println(r.Generate())
	return nil
}
