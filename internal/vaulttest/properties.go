package vaulttest

import (
	"time"

	"github.com/systmms/vaultconfig/internal/config"
)

// Properties returns defaults pointing at addr with token authentication
func Properties(addr string) config.VaultProperties {
	return config.VaultProperties{
		Enabled:           true,
		Host:              "localhost",
		Port:              8200,
		Scheme:            "https",
		URI:               addr,
		ConnectionTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		Authentication:    config.AuthToken,
		AppID: config.AppIDProperties{
			AppIDPath: "app-id",
			UserID:    config.UserIDMACAddress,
		},
		AppRole:    config.AppRoleProperties{AppRolePath: "approle"},
		Userpass:   config.UserpassProperties{Path: "userpass"},
		Kubernetes: config.KubernetesProperties{KubernetesPath: "kubernetes"},
		AWSEC2:     config.AWSEC2Properties{AWSEC2Path: "aws-ec2"},
		AWSIAM:     config.AWSIAMProperties{AWSPath: "aws", Endpoint: "https://sts.amazonaws.com/"},
		AzureMSI:   config.AzureMSIProperties{AzurePath: "azure", Resource: "https://management.azure.com/"},
		GCPGCE:     config.GCPGCEProperties{GCPPath: "gcp", ServiceAccount: "default"},
		SSL:        config.SSLProperties{CertAuthPath: "cert"},
		Generic: config.GenericProperties{
			Enabled:          true,
			Backend:          "secret",
			BackendVersion:   1,
			ProfileSeparator: "/",
			DefaultContext:   "application",
			ApplicationName:  "application",
		},
		TokenRenewal: config.TokenRenewalProperties{Enabled: true},
	}
}
