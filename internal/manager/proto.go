package manager

import (
	"fmt"

	"github.com/Combine-Capital/cqre/internal/registry"
	assetsv1 "github.com/Combine-Capital/cqc/gen/go/cqc/assets/v1"
	venuesv1 "github.com/Combine-Capital/cqc/gen/go/cqc/venues/v1"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// AssetToProto converts a canonical asset into its CQC protobuf representation.
func AssetToProto(a registry.Asset, wrapped bool) *assetsv1.Asset {
	assetType := determineAssetType(a, wrapped)
	return &assetsv1.Asset{
		AssetId:   strPtr(a.ID),
		Symbol:    strPtr(a.Symbol),
		Name:      strPtr(a.Name),
		AssetType: &assetType,
		CreatedAt: timestamppb.New(a.CreatedAt),
		UpdatedAt: timestamppb.New(a.UpdatedAt),
	}
}

// DeploymentToProto converts an on-chain address of an asset into an AssetDeployment.
func DeploymentToProto(assetID string, addr registry.ChainAddress) *assetsv1.AssetDeployment {
	deploymentID := fmt.Sprintf("%s:%s", addr.Chain, registry.NormalizeAddress(addr.Address))
	return &assetsv1.AssetDeployment{
		DeploymentId: &deploymentID,
		AssetId:      strPtr(assetID),
		ChainId:      strPtr(addr.Chain),
		Address:      strPtr(addr.Address),
	}
}

// ListingToProto converts an exchange listing into a VenueAsset.
func ListingToProto(assetID string, l registry.Listing) *venuesv1.VenueAsset {
	return &venuesv1.VenueAsset{
		VenueId:          strPtr(l.ExchangeID),
		AssetId:          strPtr(assetID),
		VenueAssetSymbol: strPtr(l.Pair),
		ListedAt:         timestamppb.Now(),
	}
}

func determineAssetType(a registry.Asset, wrapped bool) assetsv1.AssetType {
	if wrapped {
		return assetsv1.AssetType_ASSET_TYPE_WRAPPED
	}
	if len(a.OnChainAddresses) == 0 {
		return assetsv1.AssetType_ASSET_TYPE_NATIVE
	}
	for _, addr := range a.OnChainAddresses {
		if addr.Chain != "solana" {
			return assetsv1.AssetType_ASSET_TYPE_ERC20
		}
	}
	return assetsv1.AssetType_ASSET_TYPE_SPL
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptrStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
