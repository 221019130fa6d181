/*
Package security provides at-rest encryption for the secrets created
through the control plane's secrets API (Manager.CreateSecret). Registry
credentials attached to DockerImage services and the deploy tokens minted
for each service do not pass through it.

# Cluster Encryption Key

Encryption is rooted in a 32-byte key derived once at control-plane
initialization:

	clusterKey = SHA-256(nodeID)

(pkg/manager passes its node ID to DeriveKeyFromClusterID.) The key lives
only in the running process; it is not persisted. Losing it means the
stored secrets become unrecoverable.

# SecretsManager

SecretsManager wraps AES-256-GCM: EncryptSecret prepends a random 12-byte
nonce to the ciphertext, DecryptSecret splits it back out and verifies the
authentication tag. CreateSecret/GetSecretData is the higher-level pair used
when persisting a types.Secret row.

	sm, _ := security.NewSecretsManagerFromPassword(clusterID)
	secret, _ := sm.CreateSecret("registry-cred:dockerhub", []byte(password))
	plaintext, _ := sm.GetSecretData(secret)

# Why no CA/mTLS here

A multi-node design point for this package would also issue a hierarchical
PKI for manager-worker mutual TLS, to authenticate a multi-node cluster.
This control plane is a single process driving a single-node swarm
(spec.md §9: "a single control-plane process is assumed"); there is no
second party to authenticate over the network, so the CA/certificate
machinery was dropped rather than carried unused. See DESIGN.md.
*/
package security
