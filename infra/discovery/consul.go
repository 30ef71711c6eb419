// Package discovery registers this instance in Consul so the load
// balancer and peer instances in the fleet can find it, and
// deregisters cleanly on shutdown.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/fx"
)

// Registrar registers/deregisters one service instance in Consul and
// keeps its TTL health check passing for the process's lifetime.
type Registrar struct {
	client     *consulapi.Client
	logger     *slog.Logger
	serviceID  string
	checkID    string
	registered bool
}

// NewRegistrar builds a Consul client for addr. Consul being unreachable
// is non-fatal: Module logs a failed registration and the instance still
// serves local traffic, it just isn't discoverable. Ambient
// infrastructure failures must not take the core down.
func NewRegistrar(addr string, logger *slog.Logger) (*Registrar, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	return &Registrar{client: client, logger: logger}, nil
}

// Register advertises instanceID at host:port under serviceName and
// arms a TTL check.
func (r *Registrar) Register(serviceName, instanceID, host string, port int) error {
	r.serviceID = instanceID
	r.checkID = "service:" + instanceID

	reg := &consulapi.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Tags:    []string{"chatmesh", "gateway"},
		Check: &consulapi.AgentServiceCheck{
			CheckID:                        r.checkID,
			TTL:                            "30s",
			DeregisterCriticalServiceAfter: "5m",
		},
	}

	if err := r.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("consul register: %w", err)
	}
	r.registered = true
	return r.Heartbeat()
}

// Heartbeat marks the TTL check passing; Module's ticker calls this
// well inside the 30s TTL so a healthy instance never ages out of
// Consul.
func (r *Registrar) Heartbeat() error {
	if !r.registered {
		return nil
	}
	return r.client.Agent().PassTTL(r.checkID, "ok")
}

// Deregister removes this instance from Consul on shutdown.
func (r *Registrar) Deregister() error {
	if !r.registered {
		return nil
	}
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

// RegistrationParams names the values Register needs, bundled into one
// type so fx's type-based injection doesn't collide with the many
// other strings and ints flowing through the container.
type RegistrationParams struct {
	ServiceName string
	InstanceID  string
	Host        string
	Port        int
}

// heartbeatEvery keeps the TTL check passing with plenty of margin
// against the registration's 30s TTL.
const heartbeatEvery = 10 * time.Second

// Module wires the registrar's lifecycle: register on start, keep the
// TTL check passing on a ticker, deregister on stop. Invoked only when
// discovery is enabled.
var Module = fx.Module(
	"discovery",
	fx.Invoke(func(lc fx.Lifecycle, r *Registrar, params RegistrationParams, logger *slog.Logger) {
		stop := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := r.Register(params.ServiceName, params.InstanceID, params.Host, params.Port); err != nil {
					logger.Warn("consul registration failed, instance not discoverable", "err", err)
					return nil
				}
				go func() {
					ticker := time.NewTicker(heartbeatEvery)
					defer ticker.Stop()
					for {
						select {
						case <-stop:
							return
						case <-ticker.C:
							if err := r.Heartbeat(); err != nil {
								logger.Warn("consul heartbeat failed", "err", err)
							}
						}
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				close(stop)
				return r.Deregister()
			},
		})
	}),
)
