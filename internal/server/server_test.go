package server

import (
	"context"
	"strconv"
	"testing"

	"github.com/Combine-Capital/cqre/internal/manager"
	"github.com/Combine-Capital/cqre/internal/registry"
	assetsv1 "github.com/Combine-Capital/cqc/gen/go/cqc/assets/v1"
	servicesv1 "github.com/Combine-Capital/cqc/gen/go/cqc/services/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	wethAddress      = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	binanceHotWallet = "0x28C6c06298d514Db089934071355E5743bf21d60"
)

func newTestManager(t *testing.T) *manager.AssetManager {
	t.Helper()
	store := registry.NewStore()
	for _, a := range [][3]string{
		{"bitcoin", "btc", "Bitcoin"},
		{"ethereum", "eth", "Ethereum"},
		{"weth", "weth", "WETH"},
	} {
		_, err := store.Create(a[0], a[1], a[2])
		require.NoError(t, err)
	}
	_, _, err := store.AttachAddress("weth", registry.ChainAddress{Chain: "ethereum", Address: wethAddress})
	require.NoError(t, err)
	_, err = store.AddListing("bitcoin", registry.ListingSpot, registry.Listing{ExchangeID: "binance", Pair: "BTC/USDT"})
	require.NoError(t, err)
	_, err = store.UpsertHolder("ethereum", registry.HolderRecord{Address: binanceHotWallet, ChainType: "ethereum", EntityName: "Binance"})
	require.NoError(t, err)
	return manager.NewAssetManager(store, nil)
}

func TestAssetRegistryServer_GetAsset(t *testing.T) {
	s := NewAssetRegistryServer(newTestManager(t))
	ctx := context.Background()

	tests := []struct {
		name     string
		assetID  *string
		wantCode codes.Code
		wantType assetsv1.AssetType
	}{
		{name: "native asset", assetID: ptrString("bitcoin"), wantCode: codes.OK, wantType: assetsv1.AssetType_ASSET_TYPE_NATIVE},
		{name: "wrapped asset", assetID: ptrString("weth"), wantCode: codes.OK, wantType: assetsv1.AssetType_ASSET_TYPE_WRAPPED},
		{name: "missing id", assetID: nil, wantCode: codes.InvalidArgument},
		{name: "empty id", assetID: ptrString(""), wantCode: codes.InvalidArgument},
		{name: "unknown asset", assetID: ptrString("dogecoin"), wantCode: codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.GetAsset(ctx, &servicesv1.GetAssetRequest{AssetId: tt.assetID})
			if tt.wantCode != codes.OK {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, *tt.assetID, resp.Asset.GetAssetId())
			assert.Equal(t, tt.wantType, resp.Asset.GetAssetType())
		})
	}
}

func TestAssetRegistryServer_ListAssets(t *testing.T) {
	s := NewAssetRegistryServer(newTestManager(t))
	ctx := context.Background()

	pageSize := int32(2)
	first, err := s.ListAssets(ctx, &servicesv1.ListAssetsRequest{PageSize: &pageSize})
	require.NoError(t, err)
	require.Len(t, first.Assets, 2)
	assert.Equal(t, "bitcoin", first.Assets[0].GetAssetId())
	require.NotNil(t, first.NextPageToken)
	assert.Equal(t, "2", *first.NextPageToken)

	second, err := s.ListAssets(ctx, &servicesv1.ListAssetsRequest{PageSize: &pageSize, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Assets, 1)
	assert.Equal(t, "weth", second.Assets[0].GetAssetId())
	assert.Nil(t, second.NextPageToken)

	all, err := s.ListAssets(ctx, &servicesv1.ListAssetsRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Assets, 3)

	_, err = s.ListAssets(ctx, &servicesv1.ListAssetsRequest{PageToken: ptrString("abc")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = s.ListAssets(ctx, &servicesv1.ListAssetsRequest{PageToken: ptrString(strconv.Itoa(-1))})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAssetRegistryServer_SearchAssets(t *testing.T) {
	s := NewAssetRegistryServer(newTestManager(t))
	ctx := context.Background()

	resp, err := s.SearchAssets(ctx, &servicesv1.SearchAssetsRequest{Query: ptrString("btc/usdt")})
	require.NoError(t, err)
	require.Len(t, resp.Assets, 1)
	assert.Equal(t, "bitcoin", resp.Assets[0].GetAssetId())

	resp, err = s.SearchAssets(ctx, &servicesv1.SearchAssetsRequest{Query: ptrString("nothing")})
	require.NoError(t, err)
	assert.Empty(t, resp.Assets)

	_, err = s.SearchAssets(ctx, &servicesv1.SearchAssetsRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAssetRegistryServer_ListAssetDeployments(t *testing.T) {
	s := NewAssetRegistryServer(newTestManager(t))
	ctx := context.Background()

	resp, err := s.ListAssetDeployments(ctx, &servicesv1.ListAssetDeploymentsRequest{AssetId: ptrString("weth")})
	require.NoError(t, err)
	require.Len(t, resp.Deployments, 1)
	assert.Equal(t, "ethereum", resp.Deployments[0].GetChainId())
	assert.Equal(t, wethAddress, resp.Deployments[0].GetAddress())

	resp, err = s.ListAssetDeployments(ctx, &servicesv1.ListAssetDeploymentsRequest{AssetId: ptrString("bitcoin")})
	require.NoError(t, err)
	assert.Empty(t, resp.Deployments)

	_, err = s.ListAssetDeployments(ctx, &servicesv1.ListAssetDeploymentsRequest{AssetId: ptrString("dogecoin")})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = s.ListAssetDeployments(ctx, &servicesv1.ListAssetDeploymentsRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
