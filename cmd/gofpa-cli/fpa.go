package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/joshp123/gofpa/internal/config"
	"github.com/joshp123/gofpa/internal/logging"
	"github.com/joshp123/gofpa/internal/session"
	"github.com/joshp123/gofpa/plugins/fpa"
)

func newClient(cfg *config.Config) (*fpa.Client, *session.Store) {
	store, err := session.Open(cfg.Session)
	if err != nil {
		fatal("open session", err)
	}
	fpaCfg, err := fpa.ConfigFromFile(cfg.FPA)
	if err != nil {
		fatal("fpa config", err)
	}
	client := fpa.NewClient(fpaCfg, fpa.WithLogger(logging.WithComponent("fpa")), fpa.WithStateSaver(store))
	return client, store
}

// newApp returns a client with a fresh access token, restored from the
// refresh token flag or the saved session.
func newApp(ctx context.Context, cfg *config.Config, flags globalFlags) *fpa.Client {
	client, store := newClient(cfg)
	token := flags.refreshToken
	if token == "" {
		var err error
		token, err = session.BootstrapRefreshToken(ctx, store, cfg.Session.RefreshTokenFile)
		if err != nil {
			fatal("restore session (run gofpa-cli login first)", err)
		}
	}
	if err := client.RefreshWithToken(ctx, token); err != nil {
		fatal("refresh", err)
	}
	return client
}

func loginCmd(ctx context.Context, cfg *config.Config, out outputMode, args []string) {
	if len(args) < 1 {
		fatal("login", fmt.Errorf("missing email"))
	}
	password, err := readPassword()
	if err != nil {
		fatal("read password", err)
	}

	client, _ := newClient(cfg)
	defer client.Close()
	account, err := client.Login(ctx, args[0], password)
	if err != nil {
		fatal("login", err)
	}
	if out.json {
		out.printJSON(account)
		return
	}
	fmt.Printf("logged in as %s %s (%s)\n", account.FirstName, account.LastName, account.Email)
	fmt.Printf("session saved to %s\n", cfg.Session.StatePath)
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func meCmd(ctx context.Context, client *fpa.Client, out outputMode) {
	defer client.Close()
	account, ok := client.Account()
	if !ok {
		var err error
		if account, err = client.Me(ctx); err != nil {
			fatal("me", err)
		}
	}
	devices := client.Devices()
	if out.json {
		out.printJSON(map[string]any{"account": account, "devices": devices})
		return
	}

	fmt.Printf("%s %s <%s>\n\n", account.FirstName, account.LastName, account.Email)
	rows := [][]string{{"DEVICE", "TITLE", "WIFI", "BLE"}}
	for _, device := range devices {
		rows = append(rows, []string{device.DeviceID, device.Title, device.WifiMACAddress, device.BLEMACAddress})
	}
	out.table(rows)
}

func deviceCmd(ctx context.Context, client *fpa.Client, out outputMode, args []string) {
	defer client.Close()
	if len(args) < 1 {
		fatal("device", fmt.Errorf("missing device"))
	}
	deviceID, err := resolveDevice(client, args[0])
	if err != nil {
		fatal("device", err)
	}
	device, err := client.DeviceDetails(ctx, deviceID)
	var malformed *fpa.MalformedShadowError
	if errors.As(err, &malformed) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	} else if err != nil {
		fatal("device", err)
	}
	if out.json {
		out.printJSON(device)
		return
	}
	printDevice(out, device)
}

func printDevice(out outputMode, device fpa.Device) {
	fmt.Printf("%s (%s)\n", device.Title, device.DeviceID)
	if s := device.Shadow; s != nil {
		fmt.Printf("  connected:     %t\n", s.Connected)
		fmt.Printf("  temperature:   %d\n", s.Temperature)
		fmt.Printf("  powder:        %d\n", s.Powder)
		fmt.Printf("  volume:        %d %s\n", s.Volume, s.VolumeUnit)
		fmt.Printf("  making bottle: %t\n", s.MakingBottle)
		if alerts := activeAlerts(*s); len(alerts) > 0 {
			fmt.Printf("  alerts:        %s\n", strings.Join(alerts, ", "))
		}
	}

	if len(device.Bottles) > 0 {
		fmt.Println("\nBottles:")
		rows := [][]string{{"ID", "TITLE", "VOLUME", "TEMP", "POWDER", "FORMULA"}}
		for _, b := range device.Bottles {
			formula := "-"
			if b.WaterOnly {
				formula = "water only"
			} else if b.Formula != nil {
				formula = b.Formula.String()
			}
			rows = append(rows, []string{
				strconv.Itoa(b.ID), b.Title,
				fmt.Sprintf("%d %s", b.Volume, b.VolumeUnit),
				strconv.Itoa(b.Temperature), strconv.Itoa(b.Powder), formula,
			})
		}
		out.table(rows)
	}

	if len(device.BottleCreationLog) > 0 {
		fmt.Println("\nRecent bottles:")
		rows := [][]string{{"COMPLETED", "BOTTLE", "VOLUME", "TEMP"}}
		for _, entry := range device.BottleCreationLog {
			rows = append(rows, []string{
				entry.CompletionTimestamp, strconv.Itoa(entry.BottleID),
				fmt.Sprintf("%d %s", entry.Volume, entry.VolumeUnit),
				strconv.Itoa(entry.Temperature),
			})
		}
		out.table(rows)
	}
}

func activeAlerts(s fpa.ShadowState) []string {
	var alerts []string
	for name, on := range map[string]bool{
		"bottle missing":         s.BottleMissing,
		"funnel cleaning needed": s.FunnelCleaningNeeded,
		"funnel out":             s.FunnelOut,
		"lid open":               s.LidOpen,
		"low water":              s.LowWater,
	} {
		if on {
			alerts = append(alerts, name)
		}
	}
	sort.Strings(alerts)
	return alerts
}

func startCmd(ctx context.Context, client *fpa.Client, args []string) {
	defer client.Close()
	if len(args) < 1 {
		fatal("start", fmt.Errorf("missing bottle id"))
	}
	bottleID, err := strconv.Atoi(args[0])
	if err != nil {
		fatal("start", fmt.Errorf("bottle id must be a number: %w", err))
	}
	if err := client.StartBottle(ctx, bottleID); err != nil {
		fatal("start", err)
	}
	fmt.Printf("started bottle %d\n", bottleID)
}

func listenCmd(ctx context.Context, client *fpa.Client, out outputMode, args []string) {
	defer client.Close()
	if len(args) < 1 {
		fatal("listen", fmt.Errorf("missing device"))
	}
	deviceID, err := resolveDevice(client, args[0])
	if err != nil {
		fatal("listen", err)
	}

	sub := client.AddListener(func(device fpa.Device) {
		if device.DeviceID != deviceID {
			return
		}
		if out.json {
			out.printJSON(device)
			return
		}
		printEvent(device)
	})
	defer client.RemoveListener(sub)

	if err := client.ConnectToDevice(ctx, deviceID); err != nil {
		fatal("connect", err)
	}
	fmt.Fprintf(os.Stderr, "listening to %s, ctrl-c to stop\n", deviceID)
	<-ctx.Done()
}

func printEvent(device fpa.Device) {
	status := "offline"
	if device.Connected {
		status = "streaming"
	}
	line := fmt.Sprintf("%s [%s]", device.Title, status)
	if s := device.Shadow; s != nil {
		line += fmt.Sprintf(" temp=%d powder=%d volume=%d%s making=%t", s.Temperature, s.Powder, s.Volume, s.VolumeUnit, s.MakingBottle)
		if alerts := activeAlerts(*s); len(alerts) > 0 {
			line += " alerts=" + strings.Join(alerts, ",")
		}
	}
	fmt.Println(line)
}
