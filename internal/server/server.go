package server

import (
	"context"
	"strconv"

	"github.com/Combine-Capital/cqre/internal/manager"
	"github.com/Combine-Capital/cqre/internal/registry"
	assetsv1 "github.com/Combine-Capital/cqc/gen/go/cqc/assets/v1"
	servicesv1 "github.com/Combine-Capital/cqc/gen/go/cqc/services/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AssetRegistryServer implements the read side of the CQC AssetRegistry gRPC
// service over the reconciled registry. Write RPCs are left unimplemented:
// the registry is populated only by refresh cycles.
type AssetRegistryServer struct {
	servicesv1.UnimplementedAssetRegistryServer
	assetManager *manager.AssetManager
}

// NewAssetRegistryServer creates a new AssetRegistryServer with the given dependencies.
func NewAssetRegistryServer(assetManager *manager.AssetManager) *AssetRegistryServer {
	return &AssetRegistryServer{
		assetManager: assetManager,
	}
}

// derefString safely dereferences a *string, returning empty string if nil
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ptrString creates a pointer to a string value
func ptrString(s string) *string {
	return &s
}

// GetAsset retrieves an asset by ID.
func (s *AssetRegistryServer) GetAsset(ctx context.Context, req *servicesv1.GetAssetRequest) (*servicesv1.GetAssetResponse, error) {
	assetID := derefString(req.AssetId)
	if assetID == "" {
		return nil, status.Error(codes.InvalidArgument, "asset_id is required")
	}

	asset, ok := s.assetManager.GetAsset(ctx, assetID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "asset %s not found", assetID)
	}

	return &servicesv1.GetAssetResponse{
		Asset: manager.AssetToProto(asset, s.assetManager.IsWrapped(asset.ID)),
	}, nil
}

// ListAssets lists assets in creation order. The page token is the offset
// of the next page.
func (s *AssetRegistryServer) ListAssets(ctx context.Context, req *servicesv1.ListAssetsRequest) (*servicesv1.ListAssetsResponse, error) {
	limit := manager.DefaultListLimit
	if req.PageSize != nil && *req.PageSize > 0 {
		limit = manager.ClampLimit(int(*req.PageSize))
	}

	offset := 0
	if token := derefString(req.PageToken); token != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil || parsed < 0 {
			return nil, status.Error(codes.InvalidArgument, "invalid page_token")
		}
		offset = parsed
	}

	assets := s.assetManager.ListAssets(ctx, offset, limit)

	var nextPageToken *string
	if len(assets) == limit {
		nextPageToken = ptrString(strconv.Itoa(offset + limit))
	}

	return &servicesv1.ListAssetsResponse{
		Assets:        s.toProto(assets),
		NextPageToken: nextPageToken,
	}, nil
}

// SearchAssets returns the assets indexed under a symbol, name or pair.
func (s *AssetRegistryServer) SearchAssets(ctx context.Context, req *servicesv1.SearchAssetsRequest) (*servicesv1.SearchAssetsResponse, error) {
	query := derefString(req.Query)
	if query == "" {
		return nil, status.Error(codes.InvalidArgument, "query is required")
	}

	return &servicesv1.SearchAssetsResponse{
		Assets: s.toProto(s.assetManager.SearchAssets(ctx, query)),
	}, nil
}

// ListAssetDeployments lists the on-chain addresses of an asset.
func (s *AssetRegistryServer) ListAssetDeployments(ctx context.Context, req *servicesv1.ListAssetDeploymentsRequest) (*servicesv1.ListAssetDeploymentsResponse, error) {
	assetID := derefString(req.AssetId)
	if assetID == "" {
		return nil, status.Error(codes.InvalidArgument, "asset_id is required")
	}

	asset, ok := s.assetManager.GetAsset(ctx, assetID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "asset %s not found", assetID)
	}

	deployments := make([]*assetsv1.AssetDeployment, 0, len(asset.OnChainAddresses))
	for _, addr := range asset.OnChainAddresses {
		deployments = append(deployments, manager.DeploymentToProto(asset.ID, addr))
	}
	return &servicesv1.ListAssetDeploymentsResponse{Deployments: deployments}, nil
}

func (s *AssetRegistryServer) toProto(assets []registry.Asset) []*assetsv1.Asset {
	out := make([]*assetsv1.Asset, 0, len(assets))
	for _, a := range assets {
		out = append(out, manager.AssetToProto(a, s.assetManager.IsWrapped(a.ID)))
	}
	return out
}
