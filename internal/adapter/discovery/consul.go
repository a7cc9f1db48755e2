package discovery

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type ServiceConfig struct {
	Name     string
	ID       string
	Address  string
	HTTPAddr string
	GRPCAddr string
	Tags     []string
}

// ConsulClient registers the engine with the local Consul agent.
type ConsulClient struct {
	client *api.Client
	logger *zap.Logger
}

func NewConsulClient(addr string, logger *zap.Logger) (*ConsulClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	logger.Info("connected to consul", zap.String("addr", addr))
	return &ConsulClient{client: client, logger: logger}, nil
}

// Register publishes the HTTP endpoint with a /healthz check and, when a gRPC
// address is set, a second service entry checked through grpc.health.v1.
func (c *ConsulClient) Register(cfg ServiceConfig) error {
	regs, err := registrations(cfg)
	if err != nil {
		return err
	}
	for _, reg := range regs {
		if err := c.client.Agent().ServiceRegister(reg); err != nil {
			return fmt.Errorf("failed to register service %s: %w", reg.ID, err)
		}
		c.logger.Info("registered service",
			zap.String("name", reg.Name),
			zap.String("id", reg.ID),
			zap.String("address", reg.Address),
			zap.Int("port", reg.Port))
	}
	return nil
}

func (c *ConsulClient) Deregister(cfg ServiceConfig) error {
	regs, err := registrations(cfg)
	if err != nil {
		return err
	}
	for _, reg := range regs {
		if err := c.client.Agent().ServiceDeregister(reg.ID); err != nil {
			return fmt.Errorf("failed to deregister service %s: %w", reg.ID, err)
		}
	}
	c.logger.Info("deregistered service", zap.String("id", cfg.ID))
	return nil
}

func registrations(cfg ServiceConfig) ([]*api.AgentServiceRegistration, error) {
	host := cfg.Address
	if host == "" {
		host = outboundIP()
	}

	httpPort, err := port(cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("http addr: %w", err)
	}
	regs := []*api.AgentServiceRegistration{{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Address: host,
		Port:    httpPort,
		Tags:    append([]string{"http"}, cfg.Tags...),
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s/healthz", net.JoinHostPort(host, strconv.Itoa(httpPort))),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}}

	if cfg.GRPCAddr != "" {
		grpcPort, err := port(cfg.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("grpc addr: %w", err)
		}
		regs = append(regs, &api.AgentServiceRegistration{
			ID:      cfg.ID + "-grpc",
			Name:    cfg.Name + "-grpc",
			Address: host,
			Port:    grpcPort,
			Tags:    append([]string{"grpc"}, cfg.Tags...),
			Check: &api.AgentServiceCheck{
				GRPC:                           net.JoinHostPort(host, strconv.Itoa(grpcPort)),
				Interval:                       "10s",
				Timeout:                        "5s",
				DeregisterCriticalServiceAfter: "30s",
			},
		})
	}
	return regs, nil
}

func port(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// outboundIP returns the address used for outgoing traffic, falling back to
// loopback.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
