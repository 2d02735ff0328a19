// vmarkctl is a thin client for the vmarkd HTTP API.
//
// Usage:
//
//	vmarkctl [-addr host:port] status
//	vmarkctl rules
//	vmarkctl enable <rule> | disable <rule> | delete <rule>
//	vmarkctl interfaces
//	vmarkctl sessions
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "vmarkd API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	base := "http://" + *addr

	var (
		resp *http.Response
		err  error
	)
	switch args[0] {
	case "status":
		resp, err = client.Get(base + "/api/status")
	case "rules":
		resp, err = client.Get(base + "/api/rules")
	case "interfaces":
		resp, err = client.Get(base + "/api/interfaces")
	case "sessions":
		resp, err = client.Get(base + "/api/twamp/sessions")
	case "enable", "disable":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		url := fmt.Sprintf("%s/api/rules/%s/%s", base, args[1], args[0])
		resp, err = client.Post(url, "application/json", bytes.NewReader(nil))
	case "delete":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/rules/%s", base, args[1]), nil)
		resp, err = client.Do(req)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmarkctl: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmarkctl: read response: %v\n", err)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		os.Stdout.Write(body)
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vmarkctl [-addr host:port] status|rules|interfaces|sessions|enable <rule>|disable <rule>|delete <rule>")
}
