// Package config loads the entity server configuration.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// configuration file, then ENTITY_* environment variables. Files ending in
// .yaml or .yml are YAML; anything else uses the flat key=value format:
//
//	entityInfo.name=net1.client
//	entityInfo.purpose={"group":"Servers","keyId":00000000}
//	entityInfo.number_key=3
//	authInfo.pubkey.path=auth_certs/Auth101EntityCert.pem
//	entityInfo.privkey.path=credentials/keys/net1/Net1.ClientKey.pem
//	auth.ip.address=127.0.0.1
//	auth.port.number=21900
//	entity.server.ip.address=127.0.0.1
//	entity.server.port.number=21100
//	network.protocol=TCP
//
// The purpose is a template: 00000000 is replaced with each requesting
// client's id.
package config
