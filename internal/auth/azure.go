package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultconfig/internal/config"
)

// AzureTokenCredential issues managed identity tokens.
// *azidentity.ManagedIdentityCredential implements it.
type AzureTokenCredential interface {
	GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error)
}

// azureInstanceMetadataURL is the Azure Instance Metadata Service compute endpoint
var azureInstanceMetadataURL = "http://169.254.169.254/metadata/instance?api-version=2017-08-01"

// AzureMSIAuth logs in with a managed identity access token
type AzureMSIAuth struct {
	Path              string
	Role              string
	Resource          string
	SubscriptionID    string
	ResourceGroupName string
	VMName            string

	credential AzureTokenCredential
	httpClient *http.Client
}

// Name implements Method
func (a *AzureMSIAuth) Name() config.AuthenticationMethod { return config.AuthAzureMSI }

// Login implements api.AuthMethod. VM details that are not configured are
// read from the instance metadata service.
func (a *AzureMSIAuth) Login(ctx context.Context, client *api.Client) (*api.Secret, error) {
	cred := a.credential
	if cred == nil {
		msi, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure managed identity: %w", err)
		}
		cred = msi
	}

	scope := strings.TrimSuffix(a.Resource, "/") + "/.default"
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return nil, fmt.Errorf("azure managed identity token: %w", err)
	}

	if a.SubscriptionID == "" || a.ResourceGroupName == "" || a.VMName == "" {
		if err := a.fillFromMetadata(ctx); err != nil {
			return nil, err
		}
	}

	return writeLogin(ctx, client, a.Path, map[string]interface{}{
		"role":                a.Role,
		"jwt":                 token.Token,
		"subscription_id":     a.SubscriptionID,
		"resource_group_name": a.ResourceGroupName,
		"vm_name":             a.VMName,
	})
}

type azureInstance struct {
	Compute struct {
		Name              string `json:"name"`
		ResourceGroupName string `json:"resourceGroupName"`
		SubscriptionID    string `json:"subscriptionId"`
	} `json:"compute"`
}

func (a *AzureMSIAuth) fillFromMetadata(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, azureInstanceMetadataURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Metadata", "true")

	httpClient := a.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("azure instance metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("azure instance metadata: unexpected status %s", resp.Status)
	}

	var inst azureInstance
	if err := json.NewDecoder(resp.Body).Decode(&inst); err != nil {
		return fmt.Errorf("azure instance metadata: %w", err)
	}
	if a.SubscriptionID == "" {
		a.SubscriptionID = inst.Compute.SubscriptionID
	}
	if a.ResourceGroupName == "" {
		a.ResourceGroupName = inst.Compute.ResourceGroupName
	}
	if a.VMName == "" {
		a.VMName = inst.Compute.Name
	}
	return nil
}
