/*
Package config loads beacon's configuration with viper.

Sources, lowest precedence first:

 1. built-in defaults (Defaults)
 2. beacon.yaml, from --config or searched in . and /etc/beacon
 3. environment: BEACON_<SECTION>_<KEY>, e.g. BEACON_INGEST_HMAC_SECRET,
    then the legacy names (HMAC_SECRET_KEY, MQTT_URL, JWT_SECRET, ...)
 4. command-line flags bound through Options.Bindings

Example beacon.yaml:

	http:
	  addr: ":8443"
	  tls_cert: /etc/beacon/tls.crt
	  tls_key: /etc/beacon/tls.key
	mqtt:
	  broker: mqtt.internal
	  port: 1883
	  topic: trackers/+/data
	ingest:
	  max_age: 24h
	admin:
	  username: ops
	  password_hash: $2a$10$...
	storage:
	  data_dir: /var/lib/beacon

Secrets (ingest.hmac_secret, admin.jwt_secret, storage.encryption_key) are
best passed through the environment. Validate reports every problem at once.
*/
package config
