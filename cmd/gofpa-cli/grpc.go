package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/gofpa/plugins/fpa"
)

const dialTimeout = 10 * time.Second

func dial(ctx context.Context, addr string) *grpc.ClientConn {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial "+addr, err)
	}
	return conn
}

// healthCmd checks the daemon, or one device when an id is given.
func healthCmd(ctx context.Context, addr string, out outputMode, args []string) {
	conn := dial(ctx, addr)
	defer conn.Close()

	service := ""
	if len(args) > 0 {
		service = fpa.HealthServiceName(args[0])
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		fatal("health", err)
	}
	if service == "" {
		service = "(server)"
	}
	if out.json {
		out.printJSON(map[string]string{"service": service, "status": resp.GetStatus().String()})
		return
	}
	fmt.Printf("%s\t%s\n", service, resp.GetStatus())
}

func servicesCmd(ctx context.Context, addr string) {
	conn := dial(ctx, addr)
	defer conn.Close()

	services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
	if err != nil {
		fatal("list services", err)
	}
	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, addr string, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}
	conn := dial(ctx, addr)
	defer conn.Close()

	methods, err := grpcurl.ListMethods(reflectionSource(ctx, conn), args[0])
	if err != nil {
		fatal("list methods", err)
	}
	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, addr string, args []string) {
	flags := pflag.NewFlagSet("call", pflag.ExitOnError)
	data := flags.StringP("data", "d", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	conn := dial(ctx, addr)
	defer conn.Close()
	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	switch {
	case *data != "":
		reader = strings.NewReader(*data)
	case isStdinTerminal():
		reader = strings.NewReader("{}")
	default:
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}
	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, remaining[0], nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("invoke", handler.Status.Err())
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
