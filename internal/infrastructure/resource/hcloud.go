package resource

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

// HcloudHandler implements Handler for Hetzner Cloud.
type HcloudHandler struct {
	client *hcloud.Client
	config config.HcloudConfig
	logger *logger.Logger
}

// NewHcloudHandler creates the Hetzner Cloud handler.
func NewHcloudHandler(cfg config.HcloudConfig, log *logger.Logger) (*HcloudHandler, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("API token is required")
	}
	return &HcloudHandler{
		client: hcloud.NewClient(hcloud.WithToken(cfg.Token)),
		config: cfg,
		logger: log.WithComponent("hcloud"),
	}, nil
}

func (h *HcloudHandler) CreateNode(ctx context.Context, def *node.Definition) (string, error) {
	serverType := h.config.ServerType
	image := h.config.Image
	location := h.config.Location
	if v, ok := def.Resource["server_type"].(string); ok && v != "" {
		serverType = v
	}
	if v, ok := def.Resource["image"].(string); ok && v != "" {
		image = v
	}
	if v, ok := def.Resource["location"].(string); ok && v != "" {
		location = v
	}

	serverName := fmt.Sprintf("%s-%s", def.Name, def.NodeID[:8])
	h.logger.Info("creating server",
		slog.String("server_name", serverName),
		slog.String("server_type", serverType),
		slog.String("location", location))

	opts := hcloud.ServerCreateOpts{
		Name:       serverName,
		ServerType: &hcloud.ServerType{Name: serverType},
		Image:      &hcloud.Image{Name: image},
		Location:   &hcloud.Location{Name: location},
		PublicNet: &hcloud.ServerCreatePublicNet{
			EnableIPv4: true,
			EnableIPv6: false,
		},
		UserData: def.Context,
		Labels: map[string]string{
			"infra_id": def.InfraID,
			"node_id":  def.NodeID,
		},
	}

	result, _, err := h.client.Server.Create(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create server: %w", err)
	}

	instanceID := strconv.FormatInt(result.Server.ID, 10)
	h.logger.Info("server created",
		slog.String("server_id", instanceID),
		slog.String("node_id", def.NodeID))
	return instanceID, nil
}

func (h *HcloudHandler) DropNode(ctx context.Context, inst *node.Instance) error {
	h.logger.Info("destroying server",
		slog.String("server_id", inst.InstanceID),
		slog.String("node_id", inst.NodeID))

	id, err := strconv.ParseInt(inst.InstanceID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server ID format: %w", err)
	}

	_, _, err = h.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: id})
	if err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
			h.logger.Warn("server not found, assuming already destroyed",
				slog.String("server_id", inst.InstanceID))
			return nil
		}
		return fmt.Errorf("failed to delete server: %w", err)
	}
	return nil
}

func (h *HcloudHandler) NodeStatus(ctx context.Context, inst *node.Instance) (node.Status, error) {
	server, err := h.getServer(ctx, inst)
	if err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
			return node.StatusShutdown, nil
		}
		return node.StatusUnknown, err
	}
	if server == nil {
		return node.StatusShutdown, nil
	}
	return mapServerStatus(server.Status), nil
}

func (h *HcloudHandler) NodeAddress(ctx context.Context, inst *node.Instance) (string, error) {
	server, err := h.getServer(ctx, inst)
	if err != nil {
		return "", err
	}
	if server == nil {
		return "", errs.ErrNotFound
	}
	if server.PublicNet.IPv4.IP == nil {
		return "", fmt.Errorf("server %s has no public IPv4 address", inst.InstanceID)
	}
	return server.PublicNet.IPv4.IP.String(), nil
}

func (h *HcloudHandler) getServer(ctx context.Context, inst *node.Instance) (*hcloud.Server, error) {
	id, err := strconv.ParseInt(inst.InstanceID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid server ID format: %w", err)
	}
	server, _, err := h.client.Server.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return server, nil
}

func mapServerStatus(status hcloud.ServerStatus) node.Status {
	switch status {
	case hcloud.ServerStatusInitializing, hcloud.ServerStatusStarting:
		return node.StatusPending
	case hcloud.ServerStatusRunning:
		return node.StatusReady
	case hcloud.ServerStatusOff, hcloud.ServerStatusStopping, hcloud.ServerStatusDeleting:
		return node.StatusShutdown
	case hcloud.ServerStatusMigrating, hcloud.ServerStatusRebuilding:
		return node.StatusTmpFail
	default:
		return node.StatusUnknown
	}
}
