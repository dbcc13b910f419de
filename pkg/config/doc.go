/*
Package config holds the static spawner configuration, loaded once at
process start from a YAML file.

Every field has an explicit default, so downstream code never probes
for optional attributes; absent file sections simply keep their
defaults. Memory sizes accept human-readable values ("512m", "2g").

A minimal configuration:

	service_port: 8888
	service_prefix: jupyter
	networks:
	  - jupyter-net
	hub:
	  service_name: jupyterhub
	  api_url: http://127.0.0.1:8081/hub/api
	  cookie_name: jupyter-hub-token
	container:
	  image: jupyterhub/singleuser:latest
	  mounts:
	    - type: volume
	      source: "jupyterhub-user-{username}"
	      target: /home/jovyan/work
	resources:
	  memory_limit: 512m
*/
package config
